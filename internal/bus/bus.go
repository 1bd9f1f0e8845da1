package bus

import (
	"context"
	"fmt"

	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/pubsub"
	"github.com/calafate/loom/internal/realtime"
)

// jobsTopic carries job status updates; execution events use a per-workflow
// topic derived from the workflow ID.
const jobsTopic pubsub.Topic = "jobs"

func executionTopic(workflowID int64) pubsub.Topic {
	return pubsub.Topic(fmt.Sprintf("workflow-%d", workflowID))
}

// Bus multiplexes engine and scheduler events to local subscribers and
// forwards them to the external realtime bridge. Publishing never blocks and
// never fails: slow local subscribers drop events, and bridge errors are
// logged and swallowed.
type Bus struct {
	broker *pubsub.Broker[Event]
	bridge realtime.Publisher
}

// New creates a Bus. A nil bridge disables external forwarding.
func New(bridge realtime.Publisher) *Bus {
	if bridge == nil {
		bridge = realtime.NewNoopPublisher()
	}
	return &Bus{
		broker: pubsub.NewBroker[Event](),
		bridge: bridge,
	}
}

// PublishExecution emits an execution event for a workflow. Local delivery
// is keyed by workflow ID; the bridge mirrors it on the per-workflow
// execution channel.
func (b *Bus) PublishExecution(ctx context.Context, workflowID int64, event Event) {
	event.WorkflowID = workflowID
	b.broker.Publish(executionTopic(workflowID), event)

	// Bridge failure must never reach the emitter.
	_ = b.bridge.Publish(ctx, realtime.ExecutionChannel(workflowID), string(event.Type), event)
}

// PublishJob emits a job status update on the shared jobs stream and mirrors
// it on the refresh-jobs channel.
func (b *Bus) PublishJob(ctx context.Context, event Event) {
	event.Type = TypeJobStatusUpdate
	b.broker.Publish(jobsTopic, event)

	_ = b.bridge.Publish(ctx, realtime.ChannelRefreshJobs, realtime.EventJobStatusUpdate, event)
	if event.UserID != "" {
		_ = b.bridge.Publish(ctx, realtime.UserJobListChannel(event.UserID), realtime.EventJobListUpdate, event)
	}
}

// SubscribeExecution returns a channel of execution events for one workflow.
// Events arrive in emission order; the channel closes when ctx is cancelled.
func (b *Bus) SubscribeExecution(ctx context.Context, workflowID int64) <-chan pubsub.Event[Event] {
	return b.broker.Subscribe(ctx, executionTopic(workflowID))
}

// SubscribeJobs returns a channel of job status updates.
func (b *Bus) SubscribeJobs(ctx context.Context) <-chan pubsub.Event[Event] {
	return b.broker.Subscribe(ctx, jobsTopic)
}

// SubscribeAll returns every event flowing through the bus.
func (b *Bus) SubscribeAll(ctx context.Context) <-chan pubsub.Event[Event] {
	return b.broker.Subscribe(ctx, pubsub.TopicAll)
}

// SubscriberCount returns the number of active local subscribers.
func (b *Bus) SubscriberCount() int {
	return b.broker.SubscriberCount()
}

// Close shuts down local fan-out. In-flight bridge publishes complete.
func (b *Bus) Close() {
	b.broker.Close()
	log.Debug(log.CatBus, "event bus closed")
}
