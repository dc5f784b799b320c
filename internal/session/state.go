package session

import (
	"errors"
	"time"
)

var (
	// ErrNotReady is returned by sends issued while the session is not connected.
	ErrNotReady = errors.New("session: client not ready")
	ErrNoDialer = errors.New("session: no dialer configured")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type EventKind int

const (
	EventQR EventKind = iota + 1
	EventReady
	EventDisconnected
	EventAuthFailure
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventAuthFailure:
		return "auth_failure"
	default:
		return "unknown"
	}
}

// Event is a session lifecycle notification. Only the field matching Kind is set:
// QR for EventQR, Reason for EventDisconnected, Message for EventAuthFailure.
type Event struct {
	Kind    EventKind
	QR      string
	Reason  string
	Message string
	Time    time.Time
}

// Status is a point-in-time view of the session.
type Status struct {
	State             State  `json:"state"`
	LastError         string `json:"last_error,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	// QR is the pending pairing payload while waiting to be scanned.
	QR string `json:"qr,omitempty"`
}
