package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryManager_SetGetDelete(t *testing.T) {
	m := NewMemoryManager()
	defer func() { _ = m.Close() }()

	ctx := context.Background()

	type record struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}

	require.NoError(t, m.SetJSON(ctx, "k1", record{Name: "ada", Score: 7}, 0))

	var got record
	found, err := m.GetJSON(ctx, "k1", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record{Name: "ada", Score: 7}, got)

	require.NoError(t, m.Delete(ctx, "k1"))
	found, err = m.GetJSON(ctx, "k1", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryManager_MissingKey(t *testing.T) {
	m := NewMemoryManager()
	defer func() { _ = m.Close() }()

	var dst map[string]any
	found, err := m.GetJSON(context.Background(), "absent", &dst)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryManager_TTLExpiry(t *testing.T) {
	m := NewMemoryManager()
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	require.NoError(t, m.SetJSON(ctx, "short", "v", 20*time.Millisecond))

	var dst string
	found, _ := m.GetJSON(ctx, "short", &dst)
	require.True(t, found)

	time.Sleep(40 * time.Millisecond)
	found, _ = m.GetJSON(ctx, "short", &dst)
	require.False(t, found, "entry should expire")
}

func TestMemoryManager_PubSub(t *testing.T) {
	m := NewMemoryManager()
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := m.Subscribe(ctx, ChannelEmailEvents)

	require.NoError(t, m.Publish(ctx, ChannelEmailEvents, map[string]any{"email_id": "e-1", "status": "sent"}))

	select {
	case raw := <-msgs:
		require.JSONEq(t, `{"email_id":"e-1","status":"sent"}`, string(raw))
	case <-time.After(200 * time.Millisecond):
		require.Fail(t, "timeout waiting for message")
	}
}

func TestCacheKeys(t *testing.T) {
	require.Equal(t, "workflow:9", WorkflowKey(9))
	require.Equal(t, "workflow:9:last_execution", LastExecutionKey(9))
}
