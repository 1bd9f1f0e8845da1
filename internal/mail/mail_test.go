package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calafate/loom/internal/cache"
)

func testService(t *testing.T, sendErr error) (*Service, *[]string) {
	t.Helper()

	var sent []string
	svc := NewService(Config{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}, nil)
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		sent = append(sent, string(msg))
		return nil
	}
	return svc, &sent
}

func TestService_Send(t *testing.T) {
	svc, sent := testService(t, nil)

	result := svc.Send(context.Background(), Message{
		To:      "sam@example.com",
		Subject: "Ticket Received",
		Body:    "<p>hello</p>",
	})

	require.True(t, result.Success)
	require.NotEmpty(t, result.EmailID)
	require.Empty(t, result.Error)
	require.Len(t, *sent, 1)
	require.Contains(t, (*sent)[0], "To: sam@example.com")
	require.Contains(t, (*sent)[0], "Subject: Ticket Received")
	require.Contains(t, (*sent)[0], "<p>hello</p>")
}

func TestService_SendEmptyRecipient(t *testing.T) {
	svc, sent := testService(t, nil)

	result := svc.Send(context.Background(), Message{Subject: "x"})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "recipient")
	require.Empty(t, *sent, "nothing should hit the wire")
}

func TestService_SendFailure(t *testing.T) {
	svc, _ := testService(t, errors.New("connection refused"))

	result := svc.Send(context.Background(), Message{To: "sam@example.com"})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "connection refused")
}

func TestService_PublishesOutcome(t *testing.T) {
	events := cache.NewMemoryManager()
	defer func() { _ = events.Close() }()

	svc := NewService(Config{Host: "h", Port: 25, From: "f@x"}, events)
	svc.send = func(string, smtp.Auth, string, []string, []byte) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := events.Subscribe(ctx, cache.ChannelEmailEvents)

	result := svc.Send(ctx, Message{To: "sam@example.com", ExecutionID: 3, StepID: "ack"})
	require.True(t, result.Success)

	select {
	case raw := <-msgs:
		require.Contains(t, string(raw), `"execution_id":3`)
		require.Contains(t, string(raw), `"step_id":"ack"`)
	case <-time.After(200 * time.Millisecond):
		require.Fail(t, "timeout waiting for email event")
	}
}

func TestRenderTemplate(t *testing.T) {
	ctx := map[string]any{
		"ticket_id":    42,
		"ticket_title": "Printer on fire",
		"user_email":   "sam@example.com",
	}

	body := RenderTemplate("ack_ticket", ctx)
	require.Contains(t, body, "Ticket Acknowledgment")
	require.Contains(t, body, "#42")
	require.Contains(t, body, "Printer on fire")

	escalation := RenderTemplate("escalate_ticket", ctx)
	require.Contains(t, escalation, "Ticket Escalation")
	require.Contains(t, escalation, "sam@example.com")
}

func TestRenderTemplate_MissingContext(t *testing.T) {
	body := RenderTemplate("ack_ticket", map[string]any{})
	require.Contains(t, body, "N/A")
}

func TestRenderTemplate_Unknown(t *testing.T) {
	require.Equal(t, "Template not found", RenderTemplate("nope", nil))
}

type memoryLogs struct {
	mu      sync.Mutex
	entries []string
}

func (m *memoryLogs) AppendLog(_ context.Context, executionID int64, nodeID, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, strings.Join([]string{nodeID, status, message}, "|"))
	return nil
}

func TestObserver(t *testing.T) {
	events := cache.NewMemoryManager()
	defer func() { _ = events.Close() }()

	logs := &memoryLogs{}
	observer := NewObserver(events, logs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go observer.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscription attach

	require.NoError(t, events.Publish(ctx, cache.ChannelEmailEvents, Result{
		Success:     true,
		EmailID:     "e-1",
		To:          "sam@example.com",
		ExecutionID: 5,
		StepID:      "ack_email",
	}))
	// Direct sends carry no execution ID and are ignored.
	require.NoError(t, events.Publish(ctx, cache.ChannelEmailEvents, Result{
		Success: true,
		EmailID: "e-2",
		To:      "other@example.com",
	}))

	require.Eventually(t, func() bool {
		logs.mu.Lock()
		defer logs.mu.Unlock()
		return len(logs.entries) == 1
	}, time.Second, 10*time.Millisecond)

	logs.mu.Lock()
	defer logs.mu.Unlock()
	require.Contains(t, logs.entries[0], "ack_email|completed|")
	require.Contains(t, logs.entries[0], "e-1")
}
