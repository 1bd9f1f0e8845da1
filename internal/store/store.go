// Package store defines the persisted domain entities and the repository
// surfaces the engine and API depend on. The sqlite subpackage implements
// them.
package store

import (
	"context"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = fmt.Errorf("not found")

// ExecutionStatus is the lifecycle state of a single workflow run.
// Transitions are monotone: pending -> running -> (succeeded | failed).
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}

// Log line statuses. For any executed node the sequence is
// started, [retry]*, (completed | error).
const (
	LogStarted   = "started"
	LogRetry     = "retry"
	LogCompleted = "completed"
	LogError     = "error"
)

// Workflow is a stored workflow definition owned by a user. Definition holds
// the raw JSON graph; parse it with workflow.ParseDefinition.
type Workflow struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Definition []byte    `json:"definition"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Execution is a single run of a workflow. StartedAt is set exactly when the
// status first becomes running; FinishedAt is set exactly once together with
// the terminal status.
type Execution struct {
	ID          int64           `json:"id"`
	WorkflowID  int64           `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	TriggerData map[string]any  `json:"trigger_data,omitempty"`
}

// ExecutionLog is one append-only log line of an execution.
type ExecutionLog struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// User is a registered account. Identity is established by the API layer;
// the store only tracks ownership.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Ticket is a support ticket. Workflows observe ticket state through the
// check_ticket_assigned action.
type Ticket struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	AssignedTo  *int64    `json:"assigned_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, userID int64, name string, definition []byte) (*Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*Workflow, error)
	ListWorkflows(ctx context.Context, userID int64) ([]*Workflow, error)
	UpdateWorkflow(ctx context.Context, id int64, name string, definition []byte) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id int64) error
}

// ExecutionStore is the append-only log of executions and per-node log
// lines.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, workflowID int64, triggerData map[string]any) (*Execution, error)
	GetExecution(ctx context.Context, id int64) (*Execution, error)
	UpdateExecution(ctx context.Context, exec *Execution) error
	AppendLog(ctx context.Context, executionID int64, nodeID, status, message string) error
	ListExecutions(ctx context.Context, workflowID int64) ([]*Execution, error)
	ListLogs(ctx context.Context, executionID int64) ([]*ExecutionLog, error)
}

// TicketStore persists support tickets.
type TicketStore interface {
	CreateTicket(ctx context.Context, userID int64, title, description string) (*Ticket, error)
	GetTicket(ctx context.Context, id int64) (*Ticket, error)
	ListTickets(ctx context.Context, userID int64) ([]*Ticket, error)
	AssignTicket(ctx context.Context, id, assigneeID int64) error
	UpdateTicketStatus(ctx context.Context, id int64, status string) error
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}
