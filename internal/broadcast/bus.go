// Package broadcast fans transcript deltas out to attached viewer
// contexts. Delivery is best-effort and at-most-once: publishing with no
// subscribers is a no-op, a full subscriber channel drops the delta, and
// nothing ever blocks the capture path.
package broadcast

import (
	"errors"
	"sync"

	"github.com/Zerg00s/captions-relay/internal/transcript"
)

var (
	// ErrSubscriberExists is returned when Subscribe reuses an id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe misses.
	ErrSubscriberNotFound = errors.New("subscriber id not found")
)

// Publisher is the bus contract: at-most-once, no-retry delivery.
// Delivery to a single subscriber is in-order because each attachment
// has its own ordered channel; no ordering holds across subscribers.
type Publisher interface {
	Subscribe(id string, ch chan<- transcript.Delta) error
	Unsubscribe(id string) error
	Publish(d transcript.Delta)
}

// SubscriberStats counts per-attachment delivery outcomes.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Bus is the in-process Publisher. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- transcript.Delta
	stats       map[string]*SubscriberStats
	published   uint64
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan<- transcript.Delta),
		stats:       make(map[string]*SubscriberStats),
	}
}

// Subscribe registers a channel to receive deltas.
func (b *Bus) Subscribe(id string, ch chan<- transcript.Delta) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = ch
	b.stats[id] = &SubscriberStats{}
	return nil
}

// Unsubscribe detaches a viewer. The channel is not closed; its owner
// manages that.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

// Publish sends the delta to every subscriber without blocking. A full
// channel drops the delta for that subscriber only.
func (b *Bus) Publish(d transcript.Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published++
	for id, ch := range b.subscribers {
		select {
		case ch <- d:
			b.stats[id].Sent++
		default:
			b.stats[id].Dropped++
		}
	}
}

// Stats returns a snapshot of per-subscriber counters.
func (b *Bus) Stats() map[string]SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]SubscriberStats, len(b.stats))
	for id, s := range b.stats {
		out[id] = *s
	}
	return out
}

// Subscribers returns the number of attached viewers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
