package session

import (
	"time"

	"boletobot/internal/transport"
)

// Policy bounds reconnection.
type Policy struct {
	Base            time.Duration
	MaxAttempts     int
	BadSessionDelay time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BadSessionDelay <= 0 {
		p.BadSessionDelay = time.Second
	}
	return p
}

type Action int

const (
	// ActionStop leaves the session disconnected until a new Initialize.
	ActionStop Action = iota
	ActionReconnect
	// ActionWipeReconnect recreates the credentials directory before reconnecting.
	ActionWipeReconnect
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionReconnect:
		return "reconnect"
	case ActionWipeReconnect:
		return "wipe_reconnect"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Decision is the classifier's answer. Attempts is the counter value to store.
type Decision struct {
	Action   Action
	Delay    time.Duration
	Attempts int
}

// Classify maps a close code and the current attempt counter to a recovery action.
func Classify(code, attempts int, p Policy) Decision {
	p = p.withDefaults()
	switch code {
	case transport.CodeLoggedOut:
		return Decision{Action: ActionStop, Attempts: attempts}
	case transport.CodeRestartRequired:
		return Decision{Action: ActionReconnect, Delay: 0, Attempts: 0}
	case transport.CodeBadSession:
		return Decision{Action: ActionWipeReconnect, Delay: p.BadSessionDelay, Attempts: attempts}
	}
	if attempts >= p.MaxAttempts {
		return Decision{Action: ActionGiveUp, Attempts: attempts}
	}
	return Decision{
		Action:   ActionReconnect,
		Delay:    p.Base << attempts,
		Attempts: attempts + 1,
	}
}
