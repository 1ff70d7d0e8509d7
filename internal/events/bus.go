// Package events provides non-blocking state change distribution to subscribers.
//
// Bus implements a fan-out pattern where events published by the engine are
// distributed to all registered subscribers over Go channels. If a subscriber's
// channel is full, the event is dropped rather than queued; a stalled settings
// UI must never be able to stall a fold transition.
//
// # Basic Usage
//
//	bus := events.NewBus()
//	defer bus.Close()
//
//	ch := make(chan events.Event, 8)
//	bus.Subscribe("settings-ui", ch)
//
//	bus.Publish(events.Event{Type: events.TypeHidden})
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an engine event.
type Type string

const (
	// TypeShown fires after a completed expand transition.
	TypeShown Type = "shown"

	// TypeHidden fires after a completed fold transition.
	TypeHidden Type = "hidden"

	// TypePositionUnsafe fires when a hide is refused or an auto-recovery
	// forces an expand because the separator sits at or past the anchor.
	TypePositionUnsafe Type = "position-unsafe-warning"
)

// Event is a single engine notification.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	// Reason qualifies TypePositionUnsafe: "refused-hide" or "auto-recovery".
	Reason string `json:"reason,omitempty"`
}

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("bus is closed")
)

// Stats contains global and per-subscriber delivery counters.
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// SubscriberStats tracks delivery for a single subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// subscriberStats holds internal atomic counters.
type subscriberStats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes events to subscribers with a drop policy.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- Event
	stats       map[string]*subscriberStats
	closed      bool

	totalPublished atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan<- Event),
		stats:       make(map[string]*subscriberStats),
	}
}

// Subscribe registers a channel to receive events.
// The caller owns the channel and chooses its buffer size.
func (b *Bus) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = ch
	b.stats[id] = &subscriberStats{}
	return nil
}

// Unsubscribe removes a subscriber by id. The channel is not closed;
// it still belongs to the caller.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

// Publish sends the event to all subscribers without blocking.
// Subscribers with full channels miss the event. Publishing on a
// closed bus is a no-op.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.totalPublished.Add(1)

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
			b.stats[id].sent.Add(1)
		default:
			b.stats[id].dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.stats)),
	}

	for id, s := range b.stats {
		sent := s.sent.Load()
		dropped := s.dropped.Load()
		snapshot.TotalSent += sent
		snapshot.TotalDropped += dropped
		snapshot.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped}
	}

	return snapshot
}

// Close stops the bus. Subsequent Subscribe/Unsubscribe return
// ErrBusClosed and Publish becomes a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	b.closed = true
	b.subscribers = nil
	b.stats = nil
	return nil
}
