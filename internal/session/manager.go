package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"boletobot/internal/eventbus"
	"boletobot/internal/runtime/timers"
	"boletobot/internal/transport"
	"boletobot/pkg/logx"
)

const (
	connectTimeout   = 30 * time.Second
	eventBuffer      = 16
	maxAttemptsError = "Falha ao reconectar: número máximo de tentativas atingido"
)

// Hooks observe the state machine. Nil hooks are skipped.
type Hooks struct {
	OnState     func(State)
	OnReconnect func(a Action, delay time.Duration)
}

type Options struct {
	SessionDir string
	Dialer     transport.Dialer
	Policy     Policy
	// Scheduler runs reconnection timers; defaults to a timers.Group.
	Scheduler timers.Scheduler
	Hooks     Hooks
	Log       logx.Logger
}

// Manager keeps one logical session to the chat platform alive.
type Manager struct {
	opts   Options
	log    logx.Logger
	sched  timers.Scheduler
	events *eventbus.Fanout[Event]

	mu        sync.Mutex
	state     State
	lastError string
	attempts  int
	qr        string
	destroyed bool
	dialing   bool
	link      *link
	reconnect timers.Token
}

// link is one live Conn plus the goroutine pumping its events.
type link struct {
	conn transport.Conn
	done chan struct{}
}

func New(opts Options) *Manager {
	opts.Policy = opts.Policy.withDefaults()
	if opts.Scheduler == nil {
		opts.Scheduler = timers.NewGroup()
	}
	return &Manager{
		opts:   opts,
		log:    opts.Log.With(logx.String("comp", "session")),
		sched:  opts.Scheduler,
		events: eventbus.NewFanout[Event](),
	}
}

// Subscribe returns lifecycle events until unsubscribe is called.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.Subscribe(buffer)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, LastError: m.lastError, ReconnectAttempts: m.attempts, QR: m.qr}
}

func (m *Manager) State() State { return m.Status().State }

func (m *Manager) LastError() string { return m.Status().LastError }

func (m *Manager) IsReady() bool { return m.State() == Connected }

// Initialize starts connecting. It is a no-op after Destroy or while a
// connection is already live. A failing connect emits auth_failure and
// returns the error.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.beginDial() {
		return nil
	}
	err := m.connect(ctx)
	m.endDial()
	if err != nil {
		msg := err.Error()
		m.mu.Lock()
		m.lastError = msg
		m.mu.Unlock()
		m.setState(Error)
		m.log.Error("session initialize failed", logx.Err(err))
		m.emit(Event{Kind: EventAuthFailure, Message: msg})
		return err
	}
	return nil
}

// beginDial claims the right to dial. It fails after Destroy, while a link
// is live or while another dial is in flight.
func (m *Manager) beginDial() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.link != nil || m.dialing {
		return false
	}
	m.dialing = true
	return true
}

func (m *Manager) endDial() {
	m.mu.Lock()
	m.dialing = false
	m.mu.Unlock()
}

// connect dials a fresh Conn and starts pumping its events.
func (m *Manager) connect(ctx context.Context) error {
	if m.opts.Dialer == nil {
		return ErrNoDialer
	}
	m.setState(Connecting)

	conn, err := m.opts.Dialer(m.opts.SessionDir)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	l := &link{conn: conn, done: make(chan struct{})}
	ch := make(chan transport.ConnEvent, eventBuffer)

	m.mu.Lock()
	if m.destroyed || m.link != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.link = l
	m.mu.Unlock()

	go m.pump(l, ch)

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := conn.Connect(cctx, ch); err != nil {
		m.detach(l)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (m *Manager) pump(l *link, ch <-chan transport.ConnEvent) {
	for {
		select {
		case <-l.done:
			return
		case ev := <-ch:
			m.handle(l, ev)
		}
	}
}

// current reports whether l is still the live link.
func (m *Manager) current(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.destroyed && m.link == l
}

func (m *Manager) handle(l *link, ev transport.ConnEvent) {
	if !m.current(l) {
		return
	}
	switch e := ev.(type) {
	case transport.ConnQR:
		m.mu.Lock()
		m.attempts = 0
		m.qr = e.Payload
		m.mu.Unlock()
		m.setState(Connecting)
		m.log.Info("pairing code received")
		m.emit(Event{Kind: EventQR, QR: e.Payload})

	case transport.ConnOpen:
		m.mu.Lock()
		if m.state != Connecting {
			m.mu.Unlock()
			m.log.Warn("open event outside connecting state ignored", logx.String("state", m.State().String()))
			return
		}
		m.attempts = 0
		m.lastError = ""
		m.qr = ""
		m.mu.Unlock()
		m.setState(Connected)
		m.log.Info("session connected")
		m.emit(Event{Kind: EventReady})

	case transport.ConnClosed:
		m.onClosed(l, e)
	}
}

func (m *Manager) onClosed(l *link, e transport.ConnClosed) {
	m.detach(l)

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	d := Classify(e.Code, m.attempts, m.opts.Policy)
	m.attempts = d.Attempts
	m.mu.Unlock()

	m.log.Warn("connection closed",
		logx.Int("code", e.Code),
		logx.String("reason", e.Reason),
		logx.String("action", d.Action.String()),
		logx.Duration("delay", d.Delay),
		logx.Int("attempts", d.Attempts),
	)
	if h := m.opts.Hooks.OnReconnect; h != nil && d.Action != ActionStop && d.Action != ActionGiveUp {
		h(d.Action, d.Delay)
	}

	switch d.Action {
	case ActionStop:
		m.setState(Disconnected)
		reason := e.Reason
		if reason == "" {
			reason = "logged out"
		}
		m.emit(Event{Kind: EventDisconnected, Reason: reason})

	case ActionGiveUp:
		m.mu.Lock()
		m.lastError = maxAttemptsError
		m.mu.Unlock()
		m.setState(Error)
		m.log.Error("reconnection abandoned", logx.Int("attempts", d.Attempts))
		m.emit(Event{Kind: EventAuthFailure, Message: maxAttemptsError})

	case ActionWipeReconnect:
		if err := resetDir(m.opts.SessionDir); err != nil {
			msg := fmt.Sprintf("reset session dir: %v", err)
			m.mu.Lock()
			m.lastError = msg
			m.mu.Unlock()
			m.setState(Error)
			m.log.Error("session wipe failed", logx.Err(err))
			m.emit(Event{Kind: EventAuthFailure, Message: msg})
			return
		}
		m.setState(Disconnected)
		m.scheduleReconnect(d.Delay)

	case ActionReconnect:
		m.setState(Disconnected)
		m.scheduleReconnect(d.Delay)
	}
}

func (m *Manager) scheduleReconnect(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	if m.reconnect != nil {
		m.reconnect.Cancel()
	}
	m.reconnect = m.sched.AfterFunc(delay, m.redial)
}

// redial runs on the scheduler. Dial or connect failures are classified like
// a close so the backoff keeps going.
func (m *Manager) redial() {
	m.mu.Lock()
	m.reconnect = nil
	m.mu.Unlock()
	if !m.beginDial() {
		return
	}
	err := m.connect(context.Background())
	m.endDial()
	if err != nil {
		m.log.Warn("reconnect failed", logx.Err(err))
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		m.onClosed(nil, transport.ConnClosed{Code: transport.CodeOf(err), Reason: err.Error()})
	}
}

// detach closes l if it is still the live link. l may be nil.
func (m *Manager) detach(l *link) {
	m.mu.Lock()
	if l == nil || m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.mu.Unlock()
	l.close(m.log)
}

func (l *link) close(log logx.Logger) {
	close(l.done)
	if err := l.conn.Close(); err != nil {
		log.Debug("conn close failed", logx.Err(err))
	}
}

func (m *Manager) conn() (transport.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.link == nil {
		return nil, ErrNotReady
	}
	return m.link.conn, nil
}

func (m *Manager) SendText(ctx context.Context, remoteID, text string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.SendText(ctx, remoteID, text)
}

func (m *Manager) SendDocument(ctx context.Context, remoteID, path string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.SendDocument(ctx, remoteID, path)
}

// ListGroups never fails: it returns an empty list when not connected or
// when the platform query errors.
func (m *Manager) ListGroups(ctx context.Context) []transport.Group {
	c, err := m.conn()
	if err != nil {
		return []transport.Group{}
	}
	groups, err := c.ListGroups(ctx)
	if err != nil {
		m.log.Warn("list groups failed", logx.Err(err))
		return []transport.Group{}
	}
	if groups == nil {
		groups = []transport.Group{}
	}
	return groups
}

// Logout asks the platform to drop the session, then always recreates the
// credentials directory empty. Only the local reset can fail the call.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	l := m.link
	m.link = nil
	if m.reconnect != nil {
		m.reconnect.Cancel()
		m.reconnect = nil
	}
	m.mu.Unlock()

	if l != nil {
		if err := l.conn.Logout(ctx); err != nil {
			m.log.Warn("platform logout failed", logx.Err(err))
		}
		l.close(m.log)
	}
	err := resetDir(m.opts.SessionDir)

	m.mu.Lock()
	m.attempts = 0
	m.qr = ""
	m.mu.Unlock()
	m.setState(Disconnected)
	m.emit(Event{Kind: EventDisconnected, Reason: "logout"})
	if err != nil {
		return fmt.Errorf("reset session dir: %w", err)
	}
	m.log.Info("session logged out")
	return nil
}

// Destroy tears the session down for good. Close errors are logged only.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	l := m.link
	m.link = nil
	m.reconnect = nil
	m.mu.Unlock()

	m.sched.Stop()
	if l != nil {
		l.close(m.log)
	}
	m.setState(Disconnected)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		if h := m.opts.Hooks.OnState; h != nil {
			h(s)
		}
	}
}

func (m *Manager) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	m.events.Publish(e)
}

func resetDir(dir string) error {
	if dir == "" {
		return errors.New("session dir is empty")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}
