// Package bus is the in-process event fabric. Execution and job transitions
// flow through a single Bus that fans out to local subscribers (websocket
// manager, tests) and forwards to the external realtime bridge.
package bus

import (
	"time"
)

// Type identifies the kind of event flowing through the bus.
type Type string

const (
	TypeExecutionStarted  Type = "execution_started"
	TypeExecutionFinished Type = "execution_finished"
	TypeNodeStarted       Type = "node_started"
	TypeNodeCompleted     Type = "node_completed"
	TypeLog               Type = "log"
	TypeJobStatusUpdate   Type = "job_status_update"
)

// Event is the single wire shape for every bus event. Unused fields are
// omitted from JSON so each event type serializes to only its own fields.
type Event struct {
	Type Type `json:"type"`

	// Execution events
	WorkflowID  int64  `json:"workflow_id,omitempty"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
	Action      string `json:"action,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`

	// Job events
	JobID     string         `json:"job_id,omitempty"`
	JobType   string         `json:"job_type,omitempty"`
	UserID    string         `json:"-"`
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsExecutionEvent reports whether the event belongs to a workflow execution
// stream (as opposed to the shared job stream).
func (e Event) IsExecutionEvent() bool {
	switch e.Type {
	case TypeExecutionStarted, TypeExecutionFinished, TypeNodeStarted, TypeNodeCompleted, TypeLog:
		return true
	}
	return false
}
