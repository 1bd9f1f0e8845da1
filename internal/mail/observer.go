package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/log"
)

// LogAppender records a delivery outcome against an execution's log stream.
// The sqlite execution store satisfies it.
type LogAppender interface {
	AppendLog(ctx context.Context, executionID int64, nodeID, status, message string) error
}

// Observer consumes email_events and appends execution logs for deliveries
// that originated inside a workflow run.
type Observer struct {
	events cache.Manager
	logs   LogAppender
}

// NewObserver creates an Observer.
func NewObserver(events cache.Manager, logs LogAppender) *Observer {
	return &Observer{events: events, logs: logs}
}

// Run consumes delivery outcomes until ctx is cancelled. Malformed messages
// and append failures are logged and skipped; the observer never stops on
// its own.
func (o *Observer) Run(ctx context.Context) {
	log.Info(log.CatMail, "email observer started")
	defer log.Info(log.CatMail, "email observer stopped")

	for raw := range o.events.Subscribe(ctx, cache.ChannelEmailEvents) {
		var result Result
		if err := json.Unmarshal(raw, &result); err != nil {
			log.ErrorErr(log.CatMail, "decode email event", err)
			continue
		}
		if result.ExecutionID == 0 {
			continue // direct send, no execution to annotate
		}

		status := "completed"
		message := fmt.Sprintf("Email %s delivered to %s", result.EmailID, result.To)
		if !result.Success {
			status = "error"
			message = fmt.Sprintf("Email %s to %s failed: %s", result.EmailID, result.To, result.Error)
		}

		nodeID := result.StepID
		if nodeID == "" {
			nodeID = "email"
		}

		if err := o.logs.AppendLog(ctx, result.ExecutionID, nodeID, status, message); err != nil {
			log.ErrorErr(log.CatMail, "append email log", err, "executionID", result.ExecutionID)
		}
	}
}
