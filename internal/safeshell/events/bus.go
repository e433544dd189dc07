package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscriber is a callback invoked once per published event.
type Subscriber func(Event)

type subscription struct {
	id string
	fn Subscriber
}

// Bus is an in-process, goroutine-safe pub/sub over typed Events. A
// snapshot of the subscriber set is taken before each Publish so that a
// concurrent Unsubscribe cannot remove a callback mid-delivery; a
// subscriber that panics is isolated and logged, and does not affect
// delivery to any other subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	logger *logrus.Logger
}

// NewBus constructs an empty event bus. logger may be nil.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn and returns an opaque subscription id.
func (b *Bus) Subscribe(fn Subscriber) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscriber by id. Idempotent: removing an unknown
// or already-removed id is a no-op and returns false.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all subscribers and returns the count removed.
func (b *Bus) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.subs)
	b.subs = nil
	return n
}

// Count returns the current number of subscribers.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers event to a snapshot of the current subscriber set,
// concurrently, isolating any subscriber panic. It returns the number of
// subscribers that completed delivery without panicking.
func (b *Bus) Publish(event Event) int {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0

	for _, s := range snapshot {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.WithField("subscriber", s.id).WithField("panic", r).
						Error("event subscriber panicked; isolated from other subscribers")
					return
				}
				mu.Lock()
				delivered++
				mu.Unlock()
			}()
			s.fn(event)
		}(s)
	}

	wg.Wait()
	return delivered
}
