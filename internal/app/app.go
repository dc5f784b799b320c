// Package app wires configuration, the session, the folder store and the
// send orchestrator into one process and exposes the operations surface.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"boletobot/internal/config"
	"boletobot/internal/eventbus"
	"boletobot/internal/folders"
	"boletobot/internal/observability"
	rtsup "boletobot/internal/runtime/supervisor"
	"boletobot/internal/runtime/timers"
	"boletobot/internal/schedule"
	"boletobot/internal/sender"
	"boletobot/internal/session"
	"boletobot/internal/transport"
	"boletobot/internal/transport/telegram"
	"boletobot/pkg/logx"
)

const (
	originalsFile = "originals.json"
	runLockFile   = "send.lock"
)

type Options struct {
	// Dialer replaces the Telegram transport.
	Dialer transport.Dialer
	// NewScheduler builds the reconnection timers of each session manager.
	NewScheduler func() timers.Scheduler
	// DocumentsDir and DataDir anchor default paths when the config omits them.
	DocumentsDir string
	DataDir      string
	// Opener launches a file in the desktop's default application.
	Opener func(path string) error
	// Quiet forces console logging off (CLI output stays clean).
	Quiet bool
}

type App struct {
	opts Options

	cfgm    *config.ConfigManager
	logs    *logx.Service
	log     logx.Logger
	bus     eventbus.Bus
	metrics *observability.Metrics
	ops     *observability.Server
	store   *folders.Store
	sender  *sender.Orchestrator

	sup *rtsup.Supervisor

	mu        sync.Mutex
	sess      *session.Manager
	sessUnsub func()
	watcher   *folders.Watcher
	trigger   *schedule.Trigger
	applied   *config.Config
	initErr   string
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath).WithDefaultsDirs(opts.DocumentsDir, opts.DataDir)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logCfg := mapLogConfig(cfg)
	if opts.Quiet {
		logCfg.Console = false
		if !logCfg.File.Enabled {
			logCfg.Level = "ERROR"
		}
	}
	logs, root := logx.New(logCfg)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	cfgm.SetValidator(validateConfig)

	if opts.Opener == nil {
		opts.Opener = openWithDesktop
	}

	store, err := folders.NewStore(cfg.Folder, cfg.Extensions, root)
	if err != nil {
		return nil, err
	}

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		metrics: observability.NewMetrics(),
		store:   store,
		applied: cfg,
	}
	state := stateDir(cfg)
	originals, err := sender.OpenOriginals(filepath.Join(state, originalsFile), root)
	if err != nil {
		log.Warn("originals map unreadable; starting empty", logx.Err(err))
		originals = sender.NewOriginals()
	}
	a.sender = sender.New(sender.Options{
		Messenger: sessionMessenger{a},
		Source:    store,
		Settings:  func() sender.Settings { return mapSettings(a.cfgm.Get()) },
		Originals: originals,
		RunLock:   filepath.Join(state, runLockFile),
		Throttle:  cfg.ProgressThrottle(),
		Hooks: sender.Hooks{
			OnSend:   a.metrics.Send,
			OnDelete: a.metrics.Deleted,
			OnRun: func(p sender.Progress, took time.Duration) {
				a.metrics.RunFinished(took, p.Sent, len(p.Errors))
			},
		},
		Log: root,
	})
	a.ops = observability.NewServer(mapOpsConfig(cfg), a.metrics, func() any { return a.Report() }, root)
	a.setSession(a.newSession(cfg))
	return a, nil
}

// stateDir holds files shared by every process on one config: the
// copied-to-original map and the send lock. It sits beside the session
// directory, which logout wipes.
func stateDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Clean(cfg.Session.Dir))
}

// Bus carries session, progress and folder events to UI consumers.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) newSession(cfg *config.Config) *session.Manager {
	dialer := a.opts.Dialer
	if dialer == nil {
		dialer = telegram.NewDialer(mapTelegramOptions(cfg, a.log))
	}
	var sched timers.Scheduler
	if a.opts.NewScheduler != nil {
		sched = a.opts.NewScheduler()
	}
	return session.New(session.Options{
		SessionDir: cfg.Session.Dir,
		Dialer:     dialer,
		Policy:     mapPolicy(cfg),
		Scheduler:  sched,
		Hooks: session.Hooks{
			OnState: func(s session.State) { a.metrics.SetSessionState(s.String()) },
			OnReconnect: func(session.Action, time.Duration) {
				a.metrics.Reconnect()
			},
		},
		Log: a.log,
	})
}

// setSession swaps the live manager and moves the event bridge to it.
func (a *App) setSession(m *session.Manager) {
	events, unsub := m.Subscribe(32)
	a.mu.Lock()
	prevUnsub := a.sessUnsub
	a.sess = m
	a.sessUnsub = unsub
	a.mu.Unlock()
	if prevUnsub != nil {
		prevUnsub()
	}
	go func() {
		for ev := range events {
			a.onSessionEvent(ev)
		}
	}()
}

func (a *App) session() *session.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sctx := a.sup.Context()
	cfg := a.cfgm.Get()

	progress, unsubProgress := a.sender.Subscribe(64)
	a.sup.Go0("bridge.progress", func(c context.Context) {
		defer unsubProgress()
		for {
			select {
			case <-c.Done():
				return
			case p, ok := <-progress:
				if !ok {
					return
				}
				a.bus.Publish(eventbus.Event{Topic: eventbus.TopicSendProgress, Data: p})
				if p.Status == sender.StatusComplete {
					a.bus.Publish(eventbus.Event{Topic: eventbus.TopicSendComplete, Data: p})
				}
			}
		}
	})

	if err := a.restartWatcher(cfg); err != nil {
		// folder events are a convenience; scans still work without them
		a.log.Warn("folder watcher unavailable", logx.Err(err))
	}
	if err := a.restartTrigger(cfg); err != nil {
		return err
	}
	a.ops.Reconfigure(sctx, mapOpsConfig(cfg))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, next)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("session.init", func(c context.Context) {
		if err := a.session().Initialize(c); err != nil {
			a.setInitErr(err.Error())
			a.log.Error("session initialize failed", logx.Err(err))
		}
	})

	a.notifyReady(sctx)
	a.log.Info("app started",
		logx.String("folder", a.store.Root()),
		logx.Int("groups", len(cfg.Groups)),
		logx.Bool("watcher", cfg.WatcherEnabled()),
		logx.Bool("schedule", cfg.Schedule.Enabled),
	)
	return nil
}

// apply brings running components in line with a committed config.
// Applying the same config twice is a no-op.
func (a *App) apply(ctx context.Context, next *config.Config) {
	if next == nil {
		return
	}
	a.mu.Lock()
	prev := a.applied
	a.applied = next
	a.mu.Unlock()

	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		cfg := mapLogConfig(next)
		if a.opts.Quiet {
			cfg.Console = false
		}
		a.logs.Apply(cfg)
	}
	if changed["send"] {
		a.store.SetExtensions(next.Extensions)
	}
	if changed["folder"] {
		if err := a.SetFolder(next.Folder); err != nil {
			a.log.Warn("switching folder failed; keeping previous", logx.String("folder", next.Folder), logx.Err(err))
		}
	} else if changed["watcher"] {
		if err := a.restartWatcher(next); err != nil {
			a.log.Warn("folder watcher restart failed", logx.Err(err))
		}
	}
	if changed["schedule"] {
		if err := a.restartTrigger(next); err != nil {
			a.log.Warn("schedule restart failed", logx.Err(err))
		}
	}
	if changed["ops"] && a.sup != nil {
		a.ops.Reconfigure(ctx, mapOpsConfig(next))
	}
	if r := config.RestartRequired(sections); len(r) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", r))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// restartWatcher replaces the folder watcher. It only runs once the app has
// started.
func (a *App) restartWatcher(cfg *config.Config) error {
	if a.sup == nil {
		return nil
	}
	a.mu.Lock()
	old := a.watcher
	a.watcher = nil
	a.mu.Unlock()
	if old != nil {
		if err := old.Stop(); err != nil {
			a.log.Debug("watcher stop failed", logx.Err(err))
		}
	}
	if !cfg.WatcherEnabled() {
		return nil
	}

	opts := mapWatcherOptions(cfg)
	opts.OnNotify = a.onFoldersChanged
	opts.Log = a.log
	w := folders.NewWatcher(a.store.Root(), opts)
	if err := w.Start(a.sup.Context()); err != nil {
		return err
	}
	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()
	return nil
}

func (a *App) restartTrigger(cfg *config.Config) error {
	if a.sup == nil {
		return nil
	}
	a.mu.Lock()
	old := a.trigger
	a.trigger = nil
	a.mu.Unlock()
	if old != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := old.Stop(ctx); err != nil {
			a.log.Warn("previous schedule still running", logx.Err(err))
		}
		cancel()
	}
	if !cfg.Schedule.Enabled {
		return nil
	}

	run := func(ctx context.Context) error {
		_, err := a.SendAll(ctx)
		return err
	}
	t, err := schedule.New(cfg.Schedule.Spec, cfg.Schedule.Timezone, run, a.log)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	t.Start()
	a.mu.Lock()
	a.trigger = t
	a.mu.Unlock()
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.session().Destroy()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()
	a.sup.Cancel()

	a.step(ctx, "schedule", 2*time.Second, func(c context.Context) error {
		a.mu.Lock()
		t := a.trigger
		a.trigger = nil
		a.mu.Unlock()
		if t == nil {
			return nil
		}
		return t.Stop(c)
	})
	a.step(ctx, "watcher", time.Second, func(context.Context) error {
		a.mu.Lock()
		w := a.watcher
		a.watcher = nil
		a.mu.Unlock()
		if w == nil {
			return nil
		}
		return w.Stop()
	})
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "session", 2*time.Second, func(context.Context) error {
		a.session().Destroy()
		a.mu.Lock()
		unsub := a.sessUnsub
		a.sessUnsub = nil
		a.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max so one component can't stall
// the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && stepCtx.Err() == nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
