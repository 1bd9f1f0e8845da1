package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calafate/loom/internal/log"
)

// redisManager is the production Manager over a shared redis client.
type redisManager struct {
	client *redis.Client
}

// NewRedisManager creates a Manager over an existing redis client. The
// caller retains ownership of the client when sharing it with the realtime
// bridge; Close here closes it.
func NewRedisManager(client *redis.Client) Manager {
	return &redisManager{client: client}
}

// Dial connects to a redis URL and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func (m *redisManager) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// Undecodable entries are treated as a miss, not an error.
		log.Warn(log.CatCache, "discarding undecodable cache entry", "key", key)
		return false, nil
	}
	return true, nil
}

func (m *redisManager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = 0 // redis: no expiry
	}
	if err := m.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

func (m *redisManager) Delete(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

func (m *redisManager) Publish(ctx context.Context, channel string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding pubsub message: %w", err)
	}
	if err := m.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish on %q: %w", channel, err)
	}
	return nil
}

func (m *redisManager) Subscribe(ctx context.Context, channel string) <-chan []byte {
	sub := m.client.Subscribe(ctx, channel)
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (m *redisManager) Close() error {
	return m.client.Close()
}
