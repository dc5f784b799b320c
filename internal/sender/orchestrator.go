// Package sender delivers every pending group folder to its remote group.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"boletobot/internal/eventbus"
	"boletobot/internal/folders"
	"boletobot/pkg/logx"
)

var ErrRunInProgress = errors.New("sender: run already in progress")

// Messenger is the part of the session a run needs.
type Messenger interface {
	SendText(ctx context.Context, remoteID, text string) error
	SendDocument(ctx context.Context, remoteID, path string) error
}

// Source is the pending-documents tree.
type Source interface {
	Scan(mapping map[string]string) []folders.GroupStatus
	DeleteFile(path string) error
}

// Settings are read once at the start of every run.
type Settings struct {
	Groups          map[string]string
	MessageSingular string
	MessagePlural   string
	Delay           time.Duration
	DeleteOriginals bool
}

type Hooks struct {
	// OnSend reports kind "text" or "document" with the send result.
	OnSend   func(kind string, err error)
	OnDelete func(kind string)
	OnRun    func(p Progress, took time.Duration)
}

type Options struct {
	Messenger Messenger
	Source    Source
	Settings  func() Settings
	Originals *Originals
	// RunLock, when set, is a lock file held for the whole run so processes
	// sharing a data directory never send at the same time.
	RunLock string
	// Throttle bounds sending/deleting snapshots (default 200ms).
	Throttle time.Duration
	// DeleteOriginal defaults to folders.DeleteOriginalFile.
	DeleteOriginal func(path string) error
	// Sleep waits between groups; defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Hooks Hooks
	Log   logx.Logger
}

// Orchestrator runs one send at a time. A second SendAll while one is running
// is rejected, not queued.
type Orchestrator struct {
	opts    Options
	log     logx.Logger
	runLock *flock.Flock
	running atomic.Bool
	last    atomic.Pointer[Progress]
	updates *eventbus.Fanout[Progress]
}

func New(opts Options) *Orchestrator {
	if opts.Throttle <= 0 {
		opts.Throttle = 200 * time.Millisecond
	}
	if opts.Originals == nil {
		opts.Originals = NewOriginals()
	}
	if opts.DeleteOriginal == nil {
		opts.DeleteOriginal = folders.DeleteOriginalFile
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	o := &Orchestrator{
		opts:    opts,
		log:     opts.Log.With(logx.String("comp", "sender")),
		updates: eventbus.NewFanout[Progress](),
	}
	if opts.RunLock != "" {
		o.runLock = flock.New(opts.RunLock)
	}
	return o
}

func (o *Orchestrator) Originals() *Originals { return o.opts.Originals }

func (o *Orchestrator) Running() bool { return o.running.Load() }

// Last returns the most recent snapshot of the current or previous run.
func (o *Orchestrator) Last() (Progress, bool) {
	p := o.last.Load()
	if p == nil {
		return Progress{}, false
	}
	return *p, true
}

// Subscribe streams snapshots. Every run ends with a StatusComplete snapshot.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Progress, func()) {
	return o.updates.Subscribe(buffer)
}

// run is the state of one SendAll call.
type run struct {
	o   *Orchestrator
	p   Progress
	lim *rate.Limiter
}

// emit publishes a snapshot. Sending and deleting updates are rate limited;
// error, waiting and complete always go out.
func (r *run) emit() {
	switch r.p.Status {
	case StatusSending, StatusDeleting:
		if !r.lim.Allow() {
			return
		}
	}
	snap := r.p.Snapshot()
	r.o.last.Store(&snap)
	r.o.updates.Publish(snap)
}

func (r *run) fail(file, group string, err error) {
	r.p.Status = StatusError
	r.p.Errors = append(r.p.Errors, ItemError{File: file, Group: group, Error: err.Error()})
	r.emit()
}

// SendAll delivers every mapped, non-empty group folder in scan order. Item
// failures are collected in Progress.Errors; the returned error is only
// ErrRunInProgress or the context error when the run was cut short.
func (o *Orchestrator) SendAll(ctx context.Context) (Progress, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Progress{}, ErrRunInProgress
	}
	defer o.running.Store(false)
	unlock, err := o.lockRun()
	if err != nil {
		return Progress{}, err
	}
	defer unlock()

	st := o.opts.Settings()
	var eligible []folders.GroupStatus
	total := 0
	for _, g := range o.opts.Source.Scan(st.Groups) {
		if g.Mapped() && g.FileCount > 0 {
			eligible = append(eligible, g)
			total += g.FileCount
		}
	}

	r := &run{
		o:   o,
		lim: rate.NewLimiter(rate.Every(o.opts.Throttle), 1),
		p: Progress{
			RunID:     uuid.NewString(),
			Total:     total,
			Status:    StatusSending,
			Errors:    []ItemError{},
			StartedAt: time.Now(),
		},
	}
	log := o.log.With(logx.String("run", r.p.RunID))
	log.Info("send run started", logx.Int("groups", len(eligible)), logx.Int("total", total))

	var runErr error
	for i, g := range eligible {
		r.sendGroup(ctx, log, g, st)

		if i < len(eligible)-1 && st.Delay > 0 {
			r.p.Status = StatusWaiting
			r.emit()
			if err := o.opts.Sleep(ctx, st.Delay); err != nil {
				runErr = err
				log.Warn("send run interrupted", logx.Err(err))
				break
			}
		}
	}

	r.p.Status = StatusComplete
	r.p.CurrentFile = ""
	r.p.FinishedAt = time.Now()
	r.emit()
	took := r.p.FinishedAt.Sub(r.p.StartedAt)
	log.Info("send run complete",
		logx.Int("sent", r.p.Sent),
		logx.Int("total", r.p.Total),
		logx.Int("errors", len(r.p.Errors)),
		logx.Duration("took", took),
	)
	if h := o.opts.Hooks.OnRun; h != nil {
		h(r.p.Snapshot(), took)
	}
	return r.p.Snapshot(), runErr
}

// lockRun takes the cross-process run lock without waiting.
func (o *Orchestrator) lockRun() (func(), error) {
	if o.runLock == nil {
		return func() {}, nil
	}
	ok, err := o.runLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sender: run lock: %w", err)
	}
	if !ok {
		o.log.Warn("send run rejected; another process is sending", logx.String("lock", o.runLock.Path()))
		return nil, ErrRunInProgress
	}
	return func() {
		if err := o.runLock.Unlock(); err != nil {
			o.log.Warn("run lock release failed", logx.Err(err))
		}
	}, nil
}

func (r *run) sendGroup(ctx context.Context, log logx.Logger, g folders.GroupStatus, st Settings) {
	o := r.o
	text := st.MessageSingular
	if g.FileCount > 1 {
		text = st.MessagePlural
	}

	r.p.Status = StatusSending
	r.p.CurrentGroup = g.Name
	r.p.CurrentFile = MessageSentinel
	r.emit()

	err := o.opts.Messenger.SendText(ctx, g.RemoteID, text)
	o.hookSend("text", err)
	if err != nil {
		// files without their message are skipped
		log.Warn("group message failed; skipping group", logx.String("group", g.Name), logx.Err(err))
		r.fail(MessageSentinel, g.Name, err)
		return
	}

	for _, file := range g.Files {
		name := filepath.Base(file)
		r.p.Status = StatusSending
		r.p.CurrentFile = name
		r.emit()

		err := o.opts.Messenger.SendDocument(ctx, g.RemoteID, file)
		o.hookSend("document", err)
		if err != nil {
			log.Warn("document failed", logx.String("group", g.Name), logx.String("file", name), logx.Err(err))
			r.fail(name, g.Name, err)
			continue
		}

		r.p.Status = StatusDeleting
		r.emit()
		r.cleanup(log, file, st.DeleteOriginals)
		r.p.Sent++
	}
}

// cleanup removes the delivered copy and, when enabled, its original.
// Failures here are logged; the document already reached the group. The
// mapping is dropped only together with the original.
func (r *run) cleanup(log logx.Logger, copied string, deleteOriginal bool) {
	o := r.o
	if err := o.opts.Source.DeleteFile(copied); err != nil {
		// the copy is sent again next run and keeps its original
		log.Warn("delete copy failed", logx.String("path", copied), logx.Err(err))
		return
	}
	o.hookDelete("copy")
	if !deleteOriginal {
		return
	}
	original, ok := o.opts.Originals.Take(copied)
	if !ok {
		return
	}
	switch err := o.opts.DeleteOriginal(original); {
	case err == nil:
		o.hookDelete("original")
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("original already gone", logx.String("path", original))
	default:
		log.Warn("delete original failed", logx.String("path", original), logx.Err(err))
	}
}

func (o *Orchestrator) hookSend(kind string, err error) {
	if h := o.opts.Hooks.OnSend; h != nil {
		h(kind, err)
	}
}

func (o *Orchestrator) hookDelete(kind string) {
	if h := o.opts.Hooks.OnDelete; h != nil {
		h(kind)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
