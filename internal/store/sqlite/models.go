package sqlite

import (
	"encoding/json"
	"time"

	"github.com/calafate/loom/internal/store"
)

// WorkflowModel represents the database row for the workflows table.
// Fields map directly to SQL columns with Unix timestamps for time values.
type WorkflowModel struct {
	ID         int64
	UserID     int64
	Name       string
	Definition string // JSON encoded graph
	CreatedAt  int64  // Unix timestamp
	UpdatedAt  int64  // Unix timestamp
}

func (m *WorkflowModel) toDomain() *store.Workflow {
	return &store.Workflow{
		ID:         m.ID,
		UserID:     m.UserID,
		Name:       m.Name,
		Definition: []byte(m.Definition),
		CreatedAt:  time.Unix(m.CreatedAt, 0),
		UpdatedAt:  time.Unix(m.UpdatedAt, 0),
	}
}

// ExecutionModel represents the database row for the executions table.
type ExecutionModel struct {
	ID          int64
	WorkflowID  int64
	Status      string
	StartedAt   *int64  // Unix timestamp, nullable
	FinishedAt  *int64  // Unix timestamp, nullable
	TriggerData *string // nullable, JSON encoded
}

func toExecutionModel(e *store.Execution) *ExecutionModel {
	m := &ExecutionModel{
		ID:         e.ID,
		WorkflowID: e.WorkflowID,
		Status:     string(e.Status),
	}
	if e.StartedAt != nil {
		startedAt := e.StartedAt.Unix()
		m.StartedAt = &startedAt
	}
	if e.FinishedAt != nil {
		finishedAt := e.FinishedAt.Unix()
		m.FinishedAt = &finishedAt
	}
	if len(e.TriggerData) > 0 {
		triggerJSON, err := json.Marshal(e.TriggerData)
		if err == nil {
			triggerData := string(triggerJSON)
			m.TriggerData = &triggerData
		}
	}
	return m
}

func (m *ExecutionModel) toDomain() *store.Execution {
	e := &store.Execution{
		ID:         m.ID,
		WorkflowID: m.WorkflowID,
		Status:     store.ExecutionStatus(m.Status),
	}
	if m.StartedAt != nil {
		t := time.Unix(*m.StartedAt, 0)
		e.StartedAt = &t
	}
	if m.FinishedAt != nil {
		t := time.Unix(*m.FinishedAt, 0)
		e.FinishedAt = &t
	}
	if m.TriggerData != nil {
		_ = json.Unmarshal([]byte(*m.TriggerData), &e.TriggerData)
	}
	return e
}

// LogModel represents the database row for the execution_logs table.
type LogModel struct {
	ID          int64
	ExecutionID int64
	NodeID      string
	Status      string
	Message     *string // nullable
	Timestamp   int64   // Unix timestamp
}

func (m *LogModel) toDomain() *store.ExecutionLog {
	l := &store.ExecutionLog{
		ID:          m.ID,
		ExecutionID: m.ExecutionID,
		NodeID:      m.NodeID,
		Status:      m.Status,
		Timestamp:   time.Unix(m.Timestamp, 0),
	}
	if m.Message != nil {
		l.Message = *m.Message
	}
	return l
}

// TicketModel represents the database row for the tickets table.
type TicketModel struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	Status      string
	AssignedTo  *int64 // nullable
	CreatedAt   int64  // Unix timestamp
	UpdatedAt   int64  // Unix timestamp
}

func (m *TicketModel) toDomain() *store.Ticket {
	t := &store.Ticket{
		ID:          m.ID,
		UserID:      m.UserID,
		Title:       m.Title,
		Description: m.Description,
		Status:      m.Status,
		CreatedAt:   time.Unix(m.CreatedAt, 0),
		UpdatedAt:   time.Unix(m.UpdatedAt, 0),
	}
	if m.AssignedTo != nil {
		assignedTo := *m.AssignedTo
		t.AssignedTo = &assignedTo
	}
	return t
}

// UserModel represents the database row for the users table.
type UserModel struct {
	ID        int64
	Email     string
	CreatedAt int64 // Unix timestamp
}

func (m *UserModel) toDomain() *store.User {
	return &store.User{
		ID:        m.ID,
		Email:     m.Email,
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
}
