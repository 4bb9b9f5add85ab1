package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("message bus closed")

// queue is an unbounded FIFO. Push never blocks; Pop suspends until an item
// is available, the context ends or the queue is closed.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *queue[T]) push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue[T]) pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// pass the wakeup on to the next waiting consumer
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, false
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// MessageBus decouples channels from the agent with two independent FIFO
// queues. Publishing never blocks the caller.
type MessageBus struct {
	inbound  *queue[InboundMessage]
	outbound *queue[OutboundMessage]
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  newQueue[InboundMessage](),
		outbound: newQueue[OutboundMessage](),
	}
}

// PublishInbound enqueues msg. It fails only after Close.
func (mb *MessageBus) PublishInbound(msg InboundMessage) error {
	return mb.inbound.push(msg)
}

// ConsumeInbound waits for the next inbound message. ok is false when ctx
// is done or the bus is closed and drained.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return mb.inbound.pop(ctx)
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) error {
	return mb.outbound.push(msg)
}

func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return mb.outbound.pop(ctx)
}

func (mb *MessageBus) InboundSize() int  { return mb.inbound.len() }
func (mb *MessageBus) OutboundSize() int { return mb.outbound.len() }

// Close stops both queues. Consumers drain what is already queued, then
// receive ok=false.
func (mb *MessageBus) Close() {
	mb.inbound.close()
	mb.outbound.close()
}
