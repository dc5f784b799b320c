package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Fanout is a typed, in-memory broadcaster used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels.
//   - A slow subscriber loses its oldest queued value, never the newest one.
//
// It does not own any goroutines.
type Fanout[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	seq  atomic.Uint64
}

func NewFanout[T any]() *Fanout[T] {
	return &Fanout[T]{subs: map[uint64]chan T{}}
}

func (f *Fanout[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe returns a channel and an idempotent unsubscribe func that closes it.
func (f *Fanout[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)
	id := f.seq.Add(1)

	f.mu.Lock()
	if f.subs == nil {
		f.subs = map[uint64]chan T{}
	}
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so close cannot race a send.
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Len reports the number of active subscribers.
func (f *Fanout[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Topic is the closed set of application-level events.
type Topic uint8

const (
	TopicSessionQR Topic = iota + 1
	TopicSessionReady
	TopicSessionDisconnected
	TopicSessionAuthFailure
	TopicSendProgress
	TopicSendComplete
	TopicFoldersChanged
)

func (t Topic) String() string {
	switch t {
	case TopicSessionQR:
		return "session.qr"
	case TopicSessionReady:
		return "session.ready"
	case TopicSessionDisconnected:
		return "session.disconnected"
	case TopicSessionAuthFailure:
		return "session.auth_failure"
	case TopicSendProgress:
		return "send.progress"
	case TopicSendComplete:
		return "send.complete"
	case TopicFoldersChanged:
		return "folders.changed"
	default:
		return "unknown"
	}
}

// Event is what travels on the application Bus.
//
// Data carries the component's own typed value (a session event, a progress
// snapshot, or nil for folder changes).
type Event struct {
	Topic Topic
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every topic when topics is empty.
	Subscribe(buffer int, topics ...Topic) (ch <-chan Event, unsubscribe func())
}

// New returns a Bus backed by one Fanout per subscriber filter.
func New() Bus {
	return &memBus{all: NewFanout[Event]()}
}

type memBus struct {
	all *Fanout[Event]
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.all.Publish(e)
}

func (b *memBus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if len(topics) == 0 {
		return b.all.Subscribe(buffer)
	}
	src, unsubSrc := b.all.Subscribe(buffer)
	want := make(map[Topic]struct{}, len(topics))
	for _, t := range topics {
		want[t] = struct{}{}
	}
	if buffer <= 0 {
		buffer = 8
	}
	out := make(chan Event, buffer)
	go func() {
		defer close(out)
		for e := range src {
			if _, ok := want[e.Topic]; !ok {
				continue
			}
			select {
			case out <- e:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, unsubSrc
}
