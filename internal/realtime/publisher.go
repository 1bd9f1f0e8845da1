// Package realtime bridges engine events onto an external realtime channel
// so browser clients can subscribe without holding a connection to this
// process. When no transport is configured the bridge degrades to logged
// no-ops; it never fails its caller.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/calafate/loom/internal/log"
)

// Channel names used by the bridge. Execution channels are derived per
// workflow via ExecutionChannel.
const (
	ChannelRefreshJobs = "refresh-jobs"

	EventJobStatusUpdate = "job-status-update"
	EventJobListUpdate   = "job-list-update"
)

// ExecutionChannel returns the per-workflow execution event channel.
func ExecutionChannel(workflowID int64) string {
	return fmt.Sprintf("execution-%d", workflowID)
}

// UserJobListChannel returns the per-user job list channel.
func UserJobListChannel(userID string) string {
	return fmt.Sprintf("user-%s-job-list", userID)
}

// Publisher publishes named events to external realtime channels.
type Publisher interface {
	// Publish sends an event to a channel. Implementations log failures
	// rather than surfacing them; the returned error is advisory and
	// callers are free to ignore it.
	Publish(ctx context.Context, channel, event string, data any) error
}

// envelope is the wire shape written to the transport.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// redisPublisher publishes events as JSON envelopes over redis pub/sub.
type redisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Publisher over an existing redis client.
func NewRedisPublisher(client *redis.Client) Publisher {
	return &redisPublisher{client: client}
}

func (p *redisPublisher) Publish(ctx context.Context, channel, event string, data any) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		log.ErrorErr(log.CatRealtime, "marshal realtime event", err, "channel", channel, "event", event)
		return err
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.ErrorErr(log.CatRealtime, "publish realtime event", err, "channel", channel, "event", event)
		return err
	}
	log.Debug(log.CatRealtime, "published", "channel", channel, "event", event)
	return nil
}

// noopPublisher logs publishes and drops them. Used when no realtime
// transport is configured.
type noopPublisher struct{}

// NewNoopPublisher creates a Publisher that logs and discards every publish.
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(_ context.Context, channel, event string, _ any) error {
	log.Debug(log.CatRealtime, "publish simulated (no transport configured)", "channel", channel, "event", event)
	return nil
}
