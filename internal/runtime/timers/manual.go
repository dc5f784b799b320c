package timers

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by hand. Tasks run only when Advance or
// FireAll is called, on the caller's goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	tasks   []*manualTask
	stopped bool
	// Delays records every requested delay in call order.
	Delays []time.Duration
}

type manualTask struct {
	m     *Manual
	id    uint64
	at    time.Duration
	fn    func()
	fired bool
	dead  bool
}

func (t *manualTask) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.fired || t.dead {
		return false
	}
	t.dead = true
	return true
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) AfterFunc(d time.Duration, fn func()) Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delays = append(m.Delays, d)
	if m.stopped {
		return noopToken{}
	}
	m.seq++
	t := &manualTask{m: m, id: m.seq, at: m.now + d, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *Manual) Stop() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	n := 0
	for _, t := range m.tasks {
		if !t.fired && !t.dead {
			t.dead = true
			n++
		}
	}
	return n
}

// Pending reports tasks that have neither fired nor been cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.fired && !t.dead {
			n++
		}
	}
	return n
}

// LastDelay returns the most recent requested delay, or -1 when none.
func (m *Manual) LastDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Delays) == 0 {
		return -1
	}
	return m.Delays[len(m.Delays)-1]
}

// Advance moves the clock forward and runs due tasks in deadline order.
// Tasks scheduled by a running task are eligible in the same call.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
	ran := 0
	for {
		t := m.nextDue()
		if t == nil {
			return ran
		}
		t.fn()
		ran++
	}
}

// FireAll runs every pending task regardless of its deadline.
func (m *Manual) FireAll() int {
	m.mu.Lock()
	var max time.Duration
	for _, t := range m.tasks {
		if !t.fired && !t.dead && t.at-m.now > max {
			max = t.at - m.now
		}
	}
	m.mu.Unlock()
	return m.Advance(max)
}

func (m *Manual) nextDue() *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*manualTask
	for _, t := range m.tasks {
		if !t.fired && !t.dead && t.at <= m.now {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].id < due[j].id
	})
	due[0].fired = true
	return due[0]
}
