// Package cache provides the key-value JSON store and pub/sub channel shared
// with collaborating services. A redis-backed manager is used when REDIS_URL
// is configured; otherwise an in-memory manager keeps single-process
// deployments working with identical semantics.
package cache

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is applied when SetJSON is called with a zero TTL.
const DefaultTTL = time.Hour

// Manager is the cache / pub-sub collaborator surface. Values are stored as
// JSON; GetJSON decodes into dst the way json.Unmarshal would.
type Manager interface {
	// GetJSON loads key into dst. Returns false when the key is absent or
	// holds undecodable data.
	GetJSON(ctx context.Context, key string, dst any) (bool, error)

	// SetJSON stores value under key with a TTL. A zero ttl means DefaultTTL;
	// a negative ttl stores without expiry.
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Publish sends a JSON-encoded message on a channel.
	Publish(ctx context.Context, channel string, value any) error

	// Subscribe returns a channel of raw JSON messages published on the
	// named channel. The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) <-chan []byte

	// Close releases the manager's resources.
	Close() error
}

// Cache key helpers shared by the executor and API layer.

// WorkflowKey memoizes a workflow definition.
func WorkflowKey(workflowID int64) string {
	return fmt.Sprintf("workflow:%d", workflowID)
}

// LastExecutionKey memoizes the most recent execution outcome of a workflow.
func LastExecutionKey(workflowID int64) string {
	return fmt.Sprintf("workflow:%d:last_execution", workflowID)
}

// ChannelEmailEvents carries e-mail delivery outcomes for the observer.
const ChannelEmailEvents = "email_events"
