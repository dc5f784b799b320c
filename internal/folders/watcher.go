package folders

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"boletobot/internal/eventbus"
	"boletobot/internal/runtime/timers"
	"boletobot/pkg/logx"
)

type WatcherOptions struct {
	// Debounce coalesces raw events before notifying (default 1s).
	Debounce time.Duration
	// Resync coalesces subfolder subscription refreshes (default 2s).
	Resync   time.Duration
	OnNotify func()
	Log      logx.Logger
}

// Watcher signals "re-scan now" when anything under root changes. It watches
// root plus each immediate subfolder and follows subfolders created or
// removed later. A Watcher cannot be restarted after Stop.
type Watcher struct {
	root string
	opts WatcherOptions
	log  logx.Logger

	sched    *timers.Group
	notifyDb *timers.Debouncer
	resyncDb *timers.Debouncer
	changed  *eventbus.Fanout[struct{}]

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	subdirs map[string]struct{}
	stopped bool
	done    chan struct{}
}

func NewWatcher(root string, opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.Resync <= 0 {
		opts.Resync = 2 * time.Second
	}
	w := &Watcher{
		root:    root,
		opts:    opts,
		log:     opts.Log.With(logx.String("comp", "watcher")),
		sched:   timers.NewGroup(),
		changed: eventbus.NewFanout[struct{}](),
		subdirs: map[string]struct{}{},
		done:    make(chan struct{}),
	}
	w.notifyDb = timers.NewDebouncer(w.sched, opts.Debounce, w.notify)
	w.resyncDb = timers.NewDebouncer(w.sched, opts.Resync, w.resync)
	return w
}

// Subscribe delivers one value per debounced change. The value carries no diff.
func (w *Watcher) Subscribe(buffer int) (<-chan struct{}, func()) {
	return w.changed.Subscribe(buffer)
}

func (w *Watcher) Root() string { return w.root }

// Start subscribes to root and its subfolders and runs the event loop until
// ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.root); err != nil {
		_ = fw.Close()
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = fw.Close()
		return errors.New("folders: watcher stopped")
	}
	w.fw = fw
	w.mu.Unlock()

	w.resync()
	w.log.Debug("watcher started", logx.String("root", w.root))

	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.log.Trace("fs event", logx.String("name", ev.Name), logx.String("op", ev.Op.String()))
			w.notifyDb.Trigger()
			w.resyncDb.Trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("watch overflow; forcing rescan", logx.String("root", w.root))
				w.notifyDb.Trigger()
				w.resyncDb.Trigger()
				continue
			}
			w.log.Warn("watch error", logx.Err(err))
		}
	}
}

func (w *Watcher) notify() {
	if h := w.opts.OnNotify; h != nil {
		h()
	}
	w.changed.Publish(struct{}{})
}

// resync makes the subfolder subscriptions match the current subfolders.
func (w *Watcher) resync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.fw == nil {
		return
	}

	current := map[string]struct{}{}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.log.Warn("resync read root failed", logx.String("root", w.root), logx.Err(err))
	}
	for _, e := range entries {
		if e.IsDir() {
			current[filepath.Join(w.root, e.Name())] = struct{}{}
		}
	}

	for dir := range w.subdirs {
		if _, ok := current[dir]; ok {
			continue
		}
		// fsnotify drops watches on deleted dirs itself; Remove may then fail.
		_ = w.fw.Remove(dir)
		delete(w.subdirs, dir)
	}
	for dir := range current {
		if _, ok := w.subdirs[dir]; ok {
			continue
		}
		if err := w.fw.Add(dir); err != nil {
			w.log.Warn("watch subfolder failed", logx.String("dir", dir), logx.Err(err))
			continue
		}
		w.subdirs[dir] = struct{}{}
	}
}

// Watched lists the subscribed subfolders, sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.subdirs))
	for d := range w.subdirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Stop cancels pending debounce timers and releases every subscription.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fw := w.fw
	w.fw = nil
	w.subdirs = map[string]struct{}{}
	w.mu.Unlock()

	w.sched.Stop()
	if fw == nil {
		return nil
	}
	return fw.Close()
}
