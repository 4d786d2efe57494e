package eventbus

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	TypeCollectionResult = "collection.result"
	TypeBackfillProgress = "backfill.progress"
)

// Event is one broadcast message. Data carries the typed payload
// (models.CollectionResult, models.BackfillProgress).
type Event struct {
	Type      string      `json:"type"`
	Area      string      `json:"area,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Bus fans events out to subscriber channels. Delivery is best-effort: a
// subscriber that cannot keep up has events dropped rather than blocking
// the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber, dropping for slow ones.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
