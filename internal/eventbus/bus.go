// Package eventbus is the in-process signal channel between the
// scheduler and the app layer. Job lifecycle events ("job.triggered",
// "job.completed", "job.failed", "job.skipped") go out here so failure
// alerting stays out of the execution path.
package eventbus

import (
	"sync"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event. Payloads should be
// small values, not shared mutable state.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &bus{subs: map[int]chan Event{}}
}

type bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// Publish delivers to every current subscriber. Sends happen under the
// bus lock, which is what makes unsubscribe's close safe: a channel is
// only closed once it can no longer be seen by Publish.
func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop rather than stall the publisher.
		}
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
