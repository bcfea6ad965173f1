package bus

import (
	"sync"
	"time"
)

// Kind names a board notification.
type Kind string

const (
	TaskCountChanged     Kind = "task_count_changed"
	OverdueStatusChanged Kind = "overdue_status_changed"
	TaskMoved            Kind = "task_moved"
	MoveFailed           Kind = "move_failed"
	SessionInvalidated   Kind = "session_invalidated"
)

// Event is a board notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind
	TS         time.Time
	ProjectID  int64
	TaskID     int64
	StageID    int64
	Count      int
	HasOverdue bool
	Err        error
}

// Bus fans events out to every subscriber. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	size int
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{}), size: 64}
}

// Publish delivers e to all current subscribers.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber is behind
		}
	}
	b.mu.RUnlock()
}

// Subscribe returns a buffered channel that receives all new events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
