package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is an entry on a run's append-only event stream. Consumers must
// tolerate at-least-once delivery if their transport retries.
type Event interface {
	When() time.Time
}

// StepEvent records one step state transition.
type StepEvent struct {
	RunID     uuid.UUID
	Step      string
	From      StepState
	To        StepState
	Timestamp time.Time
}

func (e StepEvent) When() time.Time { return e.Timestamp }

// RunEvent records a run reaching its terminal outcome.
type RunEvent struct {
	RunID     uuid.UUID
	Outcome   RunOutcome
	Timestamp time.Time
}

func (e RunEvent) When() time.Time { return e.Timestamp }

// Bus fans events out to subscribers. The engine publishes from its
// coordinating loop, so per-subscriber ordering matches transition order.
// Subscriber channels are buffered; a subscriber that stops draining stalls
// publication rather than losing events.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// Subscribe registers a new consumer and returns its channel. Events
// published before subscription are not replayed.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 128)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) publish(e Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, ch := range subs {
		ch <- e
	}
}
