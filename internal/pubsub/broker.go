package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 64

type subscriber[T any] struct {
	topic Topic
	ch    chan Event[T]
}

// Broker is a generic topic-keyed pub/sub broker. Subscribers attach to a
// single topic (or TopicAll) and receive events over a buffered channel.
// Delivery is best-effort: a full subscriber channel drops the event rather
// than blocking the publisher.
type Broker[T any] struct {
	subs       map[*subscriber[T]]struct{}
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
}

// NewBroker creates a new broker with the default buffer size (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a new broker with a custom subscriber buffer size.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:       make(map[*subscriber[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe creates a subscription for a single topic. Pass TopicAll to
// receive events from every topic. The channel is closed when ctx is
// cancelled or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context, topic Topic) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := &subscriber[T]{topic: topic, ch: make(chan Event[T], b.bufferSize)}
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()

	return sub.ch
}

func (b *Broker[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return // Close already drained everything
	default:
	}

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish sends an event to every subscriber of the topic and to TopicAll
// subscribers. Non-blocking: events are dropped for full subscribers.
func (b *Broker[T]) Publish(topic Topic, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for sub := range b.subs {
		if sub.topic != topic && sub.topic != TopicAll {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Channel full - drop to keep the publisher unblocked
		}
	}
}

// Close shuts down the broker and closes all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// SubscriberCount returns the number of active subscribers across all topics.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
