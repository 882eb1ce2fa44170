// Package bus provides the in-process message bus connecting channels,
// the routing core, and the gateway control plane.
package bus

import (
	"context"
	"sync"
)

const queueDepth = 256

// MessageBus routes inbound/outbound messages through buffered channels and
// fans broadcast events out to registered subscribers.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// New creates a message bus with buffered queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, queueDepth),
		outbound:    make(chan OutboundMessage, queueDepth),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound hands a channel event to the routing core.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until an inbound message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound hands a reply to the channel dispatch loop.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// Subscribe registers an event handler under an id (typically a WS client id).
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to all subscribers. Handlers must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// InboundDepth returns the number of queued inbound messages.
func (b *MessageBus) InboundDepth() int { return len(b.inbound) }

// OutboundDepth returns the number of queued outbound messages.
func (b *MessageBus) OutboundDepth() int { return len(b.outbound) }
