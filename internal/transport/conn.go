// Package transport defines the capability a chat platform client must offer.
//
// The session state machine only talks to Conn; concrete clients live in
// subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Close codes carried by ConnClosed. They follow the HTTP-like codes chat
// platforms use to signal why a connection ended.
const (
	CodeLoggedOut        = 401
	CodeConnectionLost   = 408
	CodeConnectionClosed = 428
	CodeBadSession       = 500
	CodeUnavailable      = 503
	CodeRestartRequired  = 515
)

var ErrClosed = errors.New("transport: connection closed")

// Group is a remote chat the account can deliver to.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conn is one connection attempt. It is not reused after ConnClosed.
type Conn interface {
	// Connect starts pairing or resumes stored credentials. It returns once the
	// attempt is under way; progress arrives on events.
	Connect(ctx context.Context, events chan<- ConnEvent) error
	SendText(ctx context.Context, remoteID, text string) error
	SendDocument(ctx context.Context, remoteID, path string) error
	ListGroups(ctx context.Context) ([]Group, error)
	Logout(ctx context.Context) error
	Close() error
}

// Dialer builds a Conn bound to a credentials directory.
type Dialer func(sessionDir string) (Conn, error)

// ConnEvent is one of ConnQR, ConnOpen or ConnClosed.
type ConnEvent interface {
	connEvent()
}

// ConnQR carries a pairing payload to be rendered as a QR code.
type ConnQR struct {
	Payload string
}

// ConnOpen means the platform accepted the session.
type ConnOpen struct{}

// ConnClosed ends the connection with a platform status code.
type ConnClosed struct {
	Code   int
	Reason string
}

func (ConnQR) connEvent()     {}
func (ConnOpen) connEvent()   {}
func (ConnClosed) connEvent() {}

func (c ConnClosed) String() string {
	if c.Reason == "" {
		return fmt.Sprintf("closed (%d)", c.Code)
	}
	return fmt.Sprintf("closed (%d): %s", c.Code, c.Reason)
}

// CodeError attaches a close code to an error so callers can classify it.
type CodeError struct {
	Code int
	Err  error
}

func (e *CodeError) Error() string { return fmt.Sprintf("code %d: %v", e.Code, e.Err) }
func (e *CodeError) Unwrap() error { return e.Err }

// CodeOf extracts the close code from err, or 0.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
