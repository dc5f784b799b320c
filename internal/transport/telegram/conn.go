// Package telegram implements transport.Conn over the Telegram Bot API.
//
// A bot cannot scan a QR code, so pairing is a deep link: the QR payload
// opens a private chat with the bot and sends "/start <code>". The operator
// who completes it is recorded in pairing.json inside the session directory.
// Groups are discovered as the bot is added to them and kept in a chat store
// next to the pairing file.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"boletobot/internal/storage"
	"boletobot/internal/transport"
	"boletobot/pkg/logx"
)

type Options struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec bounds outbound sends; 0 means 1.
	RatePerSec int
	// Storage selects the chat store driver. Path is derived from the session dir.
	Storage storage.Config
	// NetFailures consecutive poll network errors close the connection (default 5).
	NetFailures int
	Log         logx.Logger
}

func (o Options) withDefaults() Options {
	if o.PollTimeout <= 0 {
		o.PollTimeout = 10 * time.Second
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 1
	}
	if o.NetFailures <= 0 {
		o.NetFailures = 5
	}
	return o
}

// NewDialer returns a transport.Dialer building a Conn per session directory.
func NewDialer(opts Options) transport.Dialer {
	return func(sessionDir string) (transport.Conn, error) {
		return New(sessionDir, opts)
	}
}

type Conn struct {
	opts    Options
	dir     string
	log     logx.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	bot     *tele.Bot
	store   storage.Store
	events  chan<- transport.ConnEvent
	pairing *Pairing
	code    string // pending /start payload while unpaired
	held    *flock.Flock

	streak    netStreak
	failing   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func New(sessionDir string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	return &Conn{
		opts:    opts,
		dir:     sessionDir,
		log:     opts.Log.With(logx.String("comp", "telegram")),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		streak:  netStreak{window: 2*opts.PollTimeout + 5*time.Second},
		done:    make(chan struct{}),
	}, nil
}

// Connect loads pairing and the chat store, starts long polling and, once
// Telegram answers the first getUpdates, emits ConnOpen (already paired) or
// ConnQR (waiting for /start). A session directory already polled by
// another process fails with ErrSessionBusy.
func (c *Conn) Connect(ctx context.Context, events chan<- transport.ConnEvent) error {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()

	if err := c.lockSession(); err != nil {
		return err
	}

	pairing, err := loadPairing(c.dir)
	if err != nil {
		c.log.Warn("pairing unreadable", logx.Err(err))
		c.emit(transport.ConnClosed{Code: transport.CodeBadSession, Reason: err.Error()})
		return nil
	}

	store, err := c.openStore()
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			c.log.Warn("chat store unreadable", logx.Err(err))
			c.emit(transport.ConnClosed{Code: transport.CodeBadSession, Reason: err.Error()})
			return nil
		}
		return fmt.Errorf("open chat store: %w", err)
	}

	if err := ctx.Err(); err != nil {
		closeStore(store, c.log)
		return err
	}
	watch := newPollWatch(http.DefaultTransport)
	b, err := tele.NewBot(tele.Settings{
		Token:  c.opts.Token,
		Poller: &tele.LongPoller{Timeout: c.opts.PollTimeout},
		Client: &http.Client{
			Timeout:   c.opts.PollTimeout + 10*time.Second,
			Transport: watch,
		},
		OnError: c.onError,
	})
	if err != nil {
		closeStore(store, c.log)
		if code := closeCode(err); code != 0 {
			return &transport.CodeError{Code: code, Err: err}
		}
		// offline at startup is retried like any dropped connection
		c.log.Warn("telegram unreachable", logx.Err(err))
		c.emit(transport.ConnClosed{Code: transport.CodeConnectionLost, Reason: err.Error()})
		return nil
	}

	c.mu.Lock()
	c.bot = b
	c.store = store
	c.pairing = pairing
	if pairing == nil {
		c.code = newPairingCode()
	}
	code := c.code
	c.mu.Unlock()

	b.Handle("/start", c.onStart)
	b.Handle(tele.OnAddedToGroup, c.onGroupSeen)
	b.Handle(tele.OnText, c.onGroupSeen)
	b.Handle(tele.OnMigration, c.onMigration)
	b.Handle(tele.OnMyChatMember, c.onMembership)

	go func() {
		c.log.Info("polling started", logx.String("bot", b.Me.Username))
		b.Start()
		c.log.Debug("polling stopped")
	}()

	if pairing != nil {
		go c.announce(watch, transport.ConnOpen{}, "session resumed")
		return nil
	}
	go c.announce(watch, transport.ConnQR{Payload: deepLink(b.Me.Username, code)}, "waiting for pairing")
	return nil
}

// announce emits ev after the first answered poll. A competing poller ends
// that poll with a 409 first, so the attempt closes without ever opening.
func (c *Conn) announce(w *pollWatch, ev transport.ConnEvent, msg string) {
	select {
	case <-w.ok:
	case <-c.done:
		return
	}
	if c.failing.Load() {
		return
	}
	c.log.Info(msg)
	c.emit(ev)
}

// lockSession holds <session dir>.lock while this Conn lives. The file sits
// beside the directory so a wipe does not remove it.
func (c *Conn) lockSession() error {
	dir := filepath.Clean(c.dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return err
	}
	l := flock.New(dir + ".lock")
	ok, err := l.TryLock()
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	if !ok {
		return &transport.CodeError{Code: transport.CodeConnectionClosed, Err: ErrSessionBusy}
	}
	c.mu.Lock()
	c.held = l
	c.mu.Unlock()
	return nil
}

func (c *Conn) openStore() (storage.Store, error) {
	cfg := c.opts.Storage
	if cfg.Driver == "" || strings.EqualFold(cfg.Driver, "none") {
		return nil, nil
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, err
	}
	cfg.Path = filepath.Join(c.dir, storage.FileName(cfg.Driver))
	return storage.Open(cfg, c.log)
}

func (c *Conn) onStart(ctx tele.Context) error {
	if ctx.Chat() == nil || ctx.Chat().Type != tele.ChatPrivate || ctx.Sender() == nil {
		return nil
	}
	c.mu.Lock()
	paired := c.pairing
	want := c.code
	b := c.bot
	c.mu.Unlock()

	if paired != nil {
		if ctx.Sender().ID == paired.OperatorID {
			return ctx.Send("Já conectado.")
		}
		return nil
	}
	if want == "" || strings.TrimSpace(ctx.Message().Payload) != want {
		return ctx.Send("Código de pareamento inválido.")
	}

	p := Pairing{
		OperatorID:  ctx.Sender().ID,
		Operator:    ctx.Sender().Username,
		BotUsername: b.Me.Username,
		PairedAt:    time.Now().UTC(),
	}
	if err := savePairing(c.dir, p); err != nil {
		c.log.Error("save pairing failed", logx.Err(err))
		go c.fail(transport.CodeBadSession, "save pairing: "+err.Error())
		return nil
	}

	c.mu.Lock()
	c.pairing = &p
	c.code = ""
	c.mu.Unlock()

	c.log.Info("paired", logx.Int64("operator", p.OperatorID), logx.String("username", p.Operator))
	c.emit(transport.ConnOpen{})
	return ctx.Send("Pareado com sucesso.")
}

// onGroupSeen records any group the bot hears from.
func (c *Conn) onGroupSeen(ctx tele.Context) error {
	chat := ctx.Chat()
	if chat == nil || !isGroup(chat.Type) {
		return nil
	}
	c.upsert(chat)
	return nil
}

func (c *Conn) onMigration(ctx tele.Context) error {
	m := ctx.Message()
	if m == nil || m.MigrateTo == 0 {
		return nil
	}
	from := m.MigrateFrom
	if from == 0 && m.Chat != nil {
		from = m.Chat.ID
	}
	st := c.chatStore()
	if st == nil {
		return nil
	}
	if err := st.MigrateChat(context.Background(), from, m.MigrateTo); err != nil {
		c.log.Warn("chat migration failed", logx.Int64("from", from), logx.Int64("to", m.MigrateTo), logx.Err(err))
	}
	return nil
}

func (c *Conn) onMembership(ctx tele.Context) error {
	u := ctx.ChatMember()
	if u == nil || u.Chat == nil || !isGroup(u.Chat.Type) || u.NewChatMember == nil {
		return nil
	}
	switch u.NewChatMember.Role {
	case tele.Left, tele.Kicked:
		if st := c.chatStore(); st != nil {
			if err := st.RemoveChat(context.Background(), u.Chat.ID); err != nil {
				c.log.Warn("chat remove failed", logx.Int64("chat", u.Chat.ID), logx.Err(err))
			}
		}
		c.log.Info("removed from group", logx.Int64("chat", u.Chat.ID), logx.String("title", u.Chat.Title))
	default:
		c.upsert(u.Chat)
	}
	return nil
}

func (c *Conn) upsert(chat *tele.Chat) {
	st := c.chatStore()
	if st == nil {
		return
	}
	err := st.UpsertChat(context.Background(), storage.Chat{
		ID:        chat.ID,
		Title:     chat.Title,
		Type:      string(chat.Type),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		c.log.Warn("chat upsert failed", logx.Int64("chat", chat.ID), logx.Err(err))
	}
}

// onError receives poller errors (ctx nil) and handler errors.
func (c *Conn) onError(err error, ctx tele.Context) {
	if ctx != nil {
		c.log.Warn("handler failed", logx.Err(err))
		return
	}
	if c.failing.Load() {
		return
	}
	if code := closeCode(err); code != 0 {
		// Stop blocks on the poller, which is the goroutine calling us.
		go c.fail(code, err.Error())
		return
	}
	if isNetwork(err) {
		n := c.streak.hit(time.Now())
		c.log.Warn("poll failed", logx.Int("streak", n), logx.Err(err))
		if n >= c.opts.NetFailures {
			go c.fail(transport.CodeConnectionLost, err.Error())
		}
		return
	}
	c.log.Warn("poll error", logx.Err(err))
}

// fail stops polling, then reports the close. Only the first call counts.
func (c *Conn) fail(code int, reason string) {
	if !c.failing.CompareAndSwap(false, true) {
		return
	}
	c.stopBot()
	c.log.Warn("connection closed", logx.Int("code", code), logx.String("reason", reason))
	c.emit(transport.ConnClosed{Code: code, Reason: reason})
}

func (c *Conn) emit(ev transport.ConnEvent) {
	c.mu.Lock()
	ch := c.events
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-c.done:
	}
}

func (c *Conn) SendText(ctx context.Context, remoteID, text string) error {
	b, chat, err := c.target(ctx, remoteID)
	if err != nil {
		return err
	}
	_, err = b.Send(chat, text)
	return wrapSendErr(err)
}

func (c *Conn) SendDocument(ctx context.Context, remoteID, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	b, chat, err := c.target(ctx, remoteID)
	if err != nil {
		return err
	}
	doc := &tele.Document{File: tele.FromDisk(path), FileName: filepath.Base(path)}
	_, err = b.Send(chat, doc)
	return wrapSendErr(err)
}

// target resolves the chat and waits for a send slot.
func (c *Conn) target(ctx context.Context, remoteID string) (*tele.Bot, *tele.Chat, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(remoteID), 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid chat id %q", remoteID)
	}
	c.mu.Lock()
	b := c.bot
	c.mu.Unlock()
	if b == nil || c.failing.Load() {
		return nil, nil, transport.ErrClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	return b, &tele.Chat{ID: id}, nil
}

func (c *Conn) ListGroups(ctx context.Context) ([]transport.Group, error) {
	st := c.chatStore()
	if st == nil {
		return []transport.Group{}, nil
	}
	chats, err := st.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	return groupsFromChats(chats), nil
}

func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	b := c.bot
	c.mu.Unlock()
	if b == nil {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.Logout(); err != nil {
		return fmt.Errorf("telegram logout: %w", err)
	}
	return nil
}

// Close stops polling and releases the chat store. It never emits.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.stopBot()
		c.mu.Lock()
		st, held := c.store, c.held
		c.store, c.held = nil, nil
		c.mu.Unlock()
		if st != nil {
			err = st.Close()
		}
		if held != nil {
			if uerr := held.Unlock(); uerr != nil {
				c.log.Debug("session unlock failed", logx.Err(uerr))
			}
		}
	})
	return err
}

func (c *Conn) stopBot() {
	c.mu.Lock()
	b := c.bot
	c.mu.Unlock()
	if b == nil {
		return
	}
	c.stopOnce.Do(b.Stop)
}

func (c *Conn) chatStore() storage.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func closeStore(st storage.Store, log logx.Logger) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		log.Debug("chat store close failed", logx.Err(err))
	}
}

func isGroup(t tele.ChatType) bool {
	return t == tele.ChatGroup || t == tele.ChatSuperGroup
}

func groupsFromChats(chats []storage.Chat) []transport.Group {
	out := make([]transport.Group, 0, len(chats))
	for _, ch := range chats {
		out = append(out, transport.Group{ID: strconv.FormatInt(ch.ID, 10), Name: ch.Title})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
