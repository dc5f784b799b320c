package timers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupStopCancelsPending(t *testing.T) {
	g := NewGroup()
	var fired atomic.Int32
	g.AfterFunc(50*time.Millisecond, func() { fired.Add(1) })
	g.AfterFunc(50*time.Millisecond, func() { fired.Add(1) })
	require.Equal(t, 2, g.Pending())

	assert.Equal(t, 2, g.Stop())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	tok := g.AfterFunc(0, func() { fired.Add(1) })
	assert.False(t, tok.Cancel())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestGroupTokenCancel(t *testing.T) {
	g := NewGroup()
	defer g.Stop()
	done := make(chan struct{})
	tok := g.AfterFunc(time.Hour, func() { close(done) })
	assert.True(t, tok.Cancel())
	assert.False(t, tok.Cancel())
	assert.Equal(t, 0, g.Pending())

	g.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	m := NewManual()
	var runs int
	d := NewDebouncer(m, time.Second, func() { runs++ })

	d.Trigger()
	m.Advance(500 * time.Millisecond)
	d.Trigger()
	m.Advance(500 * time.Millisecond)
	assert.Equal(t, 0, runs)

	m.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, runs)

	d.Trigger()
	d.Cancel()
	m.FireAll()
	assert.Equal(t, 1, runs)
}

func TestManualRunsInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(time.Second, func() {
		order = append(order, "a")
		m.AfterFunc(0, func() { order = append(order, "a2") })
	})

	assert.Equal(t, 3, m.Advance(2*time.Second))
	assert.Equal(t, []string{"a", "b", "a2"}, order)
	assert.Equal(t, time.Duration(0), m.LastDelay())
}
