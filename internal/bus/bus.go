// Package bus is the in-process change notification fan-out for "added"
// and "deleted" events.
package bus

import (
	"sync"

	"github.com/mailsink/mailsink/internal/mail"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this loses events instead of stalling
// the intake and delete paths.
const subscriberBuffer = 16

// DroppedFunc is invoked when a batch could not be delivered to a slow
// subscriber. Used to feed the dropped-events metric.
type DroppedFunc func()

// Bus fans out message batches to any number of live subscribers. A
// publish with zero subscribers is a no-op; nothing is buffered for
// absent subscribers and there is no replay. Each subscriber receives the
// batches of one channel in publish order.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	added   map[uint64]chan []*mail.Message
	deleted map[uint64]chan []string

	onDrop DroppedFunc
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		added:   make(map[uint64]chan []*mail.Message),
		deleted: make(map[uint64]chan []string),
	}
}

// OnDrop registers a callback fired once per dropped batch. Must be called
// before the bus is shared.
func (b *Bus) OnDrop(fn DroppedFunc) {
	b.onDrop = fn
}

// PublishAdded delivers newly stored messages to all added-subscribers.
func (b *Bus) PublishAdded(messages []*mail.Message) {
	if len(messages) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.added {
		select {
		case ch <- messages:
		default:
			b.dropped()
		}
	}
}

// PublishDeleted delivers a batch of deleted message cursors to all
// deleted-subscribers.
func (b *Bus) PublishDeleted(ids []string) {
	if len(ids) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.deleted {
		select {
		case ch <- ids:
		default:
			b.dropped()
		}
	}
}

// SubscribeAdded registers a subscriber for added events. The returned
// cancel func removes the subscription and closes the channel.
func (b *Bus) SubscribeAdded() (<-chan []*mail.Message, func()) {
	ch := make(chan []*mail.Message, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.added[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.added[id]; ok {
			delete(b.added, id)
			close(ch)
		}
	}
}

// SubscribeDeleted registers a subscriber for deleted events. The returned
// cancel func removes the subscription and closes the channel.
func (b *Bus) SubscribeDeleted() (<-chan []string, func()) {
	ch := make(chan []string, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.deleted[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.deleted[id]; ok {
			delete(b.deleted, id)
			close(ch)
		}
	}
}

// Subscribers reports the current subscriber count across both channels.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.added) + len(b.deleted)
}

func (b *Bus) dropped() {
	if b.onDrop != nil {
		b.onDrop()
	}
}
