// Package bus carries inbound batches, roster syncs and broadcast events
// between the session layer, the ingestion pipeline and the gateway.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// MessageBus is the process-wide message conduit. One instance is constructed
// at startup and handed to the components that need it.
type MessageBus struct {
	inbound chan InboundBatch
	roster  chan RosterSync
	done    chan struct{}
	closed  atomic.Bool

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundBatch, 100),
		roster:   make(chan RosterSync, 16),
		done:     make(chan struct{}),
		handlers: make(map[string]EventHandler),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, batch InboundBatch) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- batch:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundBatch, bool) {
	select {
	case batch, ok := <-mb.inbound:
		return batch, ok
	case <-mb.done:
		return InboundBatch{}, false
	case <-ctx.Done():
		return InboundBatch{}, false
	}
}

func (mb *MessageBus) PublishRoster(ctx context.Context, sync RosterSync) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.roster <- sync:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeRoster(ctx context.Context) (RosterSync, bool) {
	select {
	case sync, ok := <-mb.roster:
		return sync, ok
	case <-mb.done:
		return RosterSync{}, false
	case <-ctx.Done():
		return RosterSync{}, false
	}
}

// Subscribe registers an event handler under an id.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[id] = handler
}

// Unsubscribe removes an event handler.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.handlers, id)
}

// Broadcast delivers an event to all subscribed handlers. Handlers must not
// block; they run on the caller's goroutine.
func (mb *MessageBus) Broadcast(event Event) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, h := range mb.handlers {
		h(event)
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
