package telegram

import (
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"boletobot/internal/transport"
)

// ErrSessionBusy means another process is polling with the same session.
var ErrSessionBusy = errors.New("telegram: session in use by another process")

// Unknown API errors are formatted by telebot as "telegram: <desc> (<code>)".
var reAPICode = regexp.MustCompile(`\((\d{3})\)\s*$`)

// apiStatus returns the Bot API error code carried by err, or 0.
func apiStatus(err error) int {
	if err == nil {
		return 0
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code
	}
	if m := reAPICode.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// closeCode maps errors that end a connection to a transport close code.
// Anything else is 0 and handled as a transient failure.
func closeCode(err error) int {
	switch apiStatus(err) {
	case 401, 404:
		// revoked or unknown token
		return transport.CodeLoggedOut
	case 409:
		// another getUpdates poller took over; it does not clear until that
		// poller stops, so it backs off like a dropped connection
		return transport.CodeConnectionClosed
	}
	return 0
}

func isNetwork(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

// wrapSendErr tags send errors that mean the session itself is gone.
func wrapSendErr(err error) error {
	if err == nil {
		return nil
	}
	if code := closeCode(err); code == transport.CodeLoggedOut {
		return &transport.CodeError{Code: code, Err: err}
	}
	return err
}

// netStreak counts network failures that follow each other within window.
type netStreak struct {
	window time.Duration

	mu   sync.Mutex
	n    int
	last time.Time
}

func (s *netStreak) hit(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last.IsZero() && now.Sub(s.last) > s.window {
		s.n = 0
	}
	s.n++
	s.last = now
	return s.n
}

// pollWatch closes ok after the first getUpdates call Telegram answers with
// 200. A poll cut short by another poller comes back as 409 instead.
type pollWatch struct {
	next http.RoundTripper
	once sync.Once
	ok   chan struct{}
}

func newPollWatch(next http.RoundTripper) *pollWatch {
	return &pollWatch{next: next, ok: make(chan struct{})}
}

func (w *pollWatch) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := w.next.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusOK && strings.HasSuffix(req.URL.Path, "/getUpdates") {
		w.once.Do(func() { close(w.ok) })
	}
	return resp, err
}
