// Package pubsub provides a generic topic-keyed publish/subscribe broker.
package pubsub

import (
	"context"
	"time"
)

// Topic names a logical event stream within a broker. Subscribers attach to
// a single topic or to every topic at once.
type Topic string

// TopicAll receives events published to any topic.
const TopicAll Topic = "*"

// Event is a published event with a typed payload.
type Event[T any] struct {
	Topic     Topic
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events on one topic.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, topic Topic) <-chan Event[T]
}

// Publisher allows publishing events to a topic.
type Publisher[T any] interface {
	Publish(topic Topic, payload T)
}
