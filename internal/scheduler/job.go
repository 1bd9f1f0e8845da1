// Package scheduler owns deferred and background work: an in-memory job
// table, a dispatch loop that promotes due jobs, and per-type handlers for
// workflow runs, e-mail dispatch, and bound functions. Jobs are not durable
// across restarts.
package scheduler

import (
	"context"
	"time"
)

// JobType classifies the work a job performs.
type JobType string

const (
	JobWorkflowExecution JobType = "workflow_execution"
	JobEmailSend         JobType = "email_send"
	JobDelay             JobType = "delay"
	JobHTTPRequest       JobType = "http_request"
	JobGeneric           JobType = "generic"
)

// JobStatus represents the lifecycle state of a job.
// Valid transitions:
//
//	Pending   -> Running, Cancelled
//	Running   -> Completed, Failed
//	Completed -> (terminal)
//	Failed    -> (terminal)
//	Cancelled -> (terminal)
type JobStatus string

const (
	// JobPending indicates the job is waiting for its scheduled instant.
	JobPending JobStatus = "pending"
	// JobRunning indicates the job's handler is executing.
	JobRunning JobStatus = "running"
	// JobCompleted indicates the handler finished without error.
	JobCompleted JobStatus = "completed"
	// JobFailed indicates the handler returned an error.
	JobFailed JobStatus = "failed"
	// JobCancelled indicates the job was cancelled while still pending.
	JobCancelled JobStatus = "cancelled"
)

// validTransitions defines the allowed status transitions for jobs.
// The key is the current status, the value is a set of valid target statuses.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {
		JobRunning:   true,
		JobCancelled: true,
	},
	JobRunning: {
		JobCompleted: true,
		JobFailed:    true,
	},
	// Terminal statuses have no valid transitions
	JobCompleted: {},
	JobFailed:    {},
	JobCancelled: {},
}

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized JobStatus value.
func (s JobStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true if this status is terminal.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransitionTo returns true if transitioning from the current status to
// the target status is valid according to the job state machine.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}

// RunFunc is the bound work of a function-scheduled job.
type RunFunc func(ctx context.Context) (any, error)

// Job is one unit of deferred work. Timestamps are set exactly once, with
// the corresponding status transition, and never change afterwards.
type Job struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`

	// run is the bound function for func-scheduled jobs. It never leaves the
	// scheduler: clones carry nil.
	run RunFunc
}

// Clone returns a copy safe to hand to external readers. The payload map is
// copied shallowly; the bound function is not carried over.
func (j *Job) Clone() *Job {
	c := *j
	c.run = nil
	if j.Payload != nil {
		c.Payload = make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}
