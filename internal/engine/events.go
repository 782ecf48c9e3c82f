package engine

import (
	"sync"

	"github.com/rmeter/rmeter/internal/results"
)

// Event names as seen by external subscribers.
const (
	EventStatus   = "test-status"
	EventProgress = "test-progress"
	EventResult   = "test-result"
	EventComplete = "test-complete"
)

// Event is one entry of the engine's event stream. Type selects which
// payload field is set.
type Event struct {
	Type     string            `json:"type"`
	Status   Status            `json:"status,omitempty"`
	Progress *results.Progress `json:"progress,omitempty"`
	Result   *results.Result   `json:"result,omitempty"`
	Summary  *results.Summary  `json:"summary,omitempty"`
}

// subscriberBuffer sizes each subscriber's event queue.
const subscriberBuffer = 4096

// Bus fans engine events out to subscribers. Status and completion events
// are delivered to every subscriber in publish order; result and progress
// events may be dropped for subscribers that fall behind, so the engine
// never stalls on a slow consumer.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking. Lifecycle
// events (status, complete) are not skipped: when a subscriber's buffer is
// full, its oldest buffered event is evicted to make room. The rest are
// best-effort per subscriber and dropped when its buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lifecycle := ev.Type == EventStatus || ev.Type == EventComplete
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !lifecycle {
			continue
		}
		// Full buffer on a lifecycle event: evict the oldest entry so the
		// transition is still observed, without stalling the engine.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
