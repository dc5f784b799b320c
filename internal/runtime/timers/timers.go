// Package timers provides cancellable deferred tasks.
//
// A Group owns every timer it schedules, so tearing a component down is a
// single Stop call instead of tracking handles across fields.
package timers

import (
	"sync"
	"time"
)

// Token cancels one scheduled task. Cancel reports whether the task was
// still pending.
type Token interface {
	Cancel() bool
}

// Scheduler schedules fn to run once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Token
	// Stop cancels every pending task; later AfterFunc calls are no-ops.
	Stop() int
}

type Group struct {
	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*time.Timer
	stopped bool
}

func NewGroup() *Group {
	return &Group{pending: map[uint64]*time.Timer{}}
}

func (g *Group) AfterFunc(d time.Duration, fn func()) Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || fn == nil {
		return noopToken{}
	}
	if d < 0 {
		d = 0
	}
	g.seq++
	id := g.seq
	g.pending[id] = time.AfterFunc(d, func() {
		g.mu.Lock()
		_, live := g.pending[id]
		delete(g.pending, id)
		stopped := g.stopped
		g.mu.Unlock()
		if live && !stopped {
			fn()
		}
	})
	return &groupToken{g: g, id: id}
}

func (g *Group) Stop() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	n := 0
	for id, t := range g.pending {
		if t.Stop() {
			n++
		}
		delete(g.pending, id)
	}
	return n
}

// Pending reports how many tasks have not fired or been cancelled.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

type groupToken struct {
	g  *Group
	id uint64
}

func (t *groupToken) Cancel() bool {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	tm, ok := t.g.pending[t.id]
	if !ok {
		return false
	}
	delete(t.g.pending, t.id)
	return tm.Stop()
}

type noopToken struct{}

func (noopToken) Cancel() bool { return false }

// Debouncer coalesces Trigger calls: fn runs once, wait after the last call.
type Debouncer struct {
	s    Scheduler
	wait time.Duration
	fn   func()

	mu  sync.Mutex
	tok Token
}

func NewDebouncer(s Scheduler, wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{s: s, wait: wait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tok != nil {
		d.tok.Cancel()
	}
	d.tok = d.s.AfterFunc(d.wait, d.fn)
}

// Cancel drops a pending run, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tok != nil {
		d.tok.Cancel()
		d.tok = nil
	}
}
