package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/calafate/loom/internal/pubsub"
)

// memoryManager is the in-process fallback Manager. Storage is a TTL cache;
// pub/sub rides the generic broker so subscribers behave identically to the
// redis manager within a single process.
type memoryManager struct {
	store  *gocache.Cache
	broker *pubsub.Broker[[]byte]
}

// NewMemoryManager creates an in-memory Manager.
func NewMemoryManager() Manager {
	return &memoryManager{
		store:  gocache.New(DefaultTTL, 10*time.Minute),
		broker: pubsub.NewBroker[[]byte](),
	}
}

func (m *memoryManager) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := m.store.Get(key)
	if !ok {
		return false, nil
	}
	data, ok := raw.([]byte)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *memoryManager) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = gocache.NoExpiration
	}
	m.store.Set(key, data, ttl)
	return nil
}

func (m *memoryManager) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *memoryManager) Publish(_ context.Context, channel string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding pubsub message: %w", err)
	}
	m.broker.Publish(pubsub.Topic(channel), data)
	return nil
}

func (m *memoryManager) Subscribe(ctx context.Context, channel string) <-chan []byte {
	events := m.broker.Subscribe(ctx, pubsub.Topic(channel))
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (m *memoryManager) Close() error {
	m.broker.Close()
	return nil
}
