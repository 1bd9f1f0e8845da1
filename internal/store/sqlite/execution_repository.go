package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calafate/loom/internal/store"
)

// executionColumns is the list of columns to select for execution queries.
const executionColumns = `id, workflow_id, status, started_at, finished_at, trigger_data`

// logColumns is the list of columns to select for execution log queries.
const logColumns = `id, execution_id, node_id, status, message, timestamp`

// executionRepository implements store.ExecutionStore using SQLite.
type executionRepository struct {
	db *sql.DB
}

func newExecutionRepository(db *sql.DB) *executionRepository {
	return &executionRepository{db: db}
}

// Ensure executionRepository implements store.ExecutionStore.
var _ store.ExecutionStore = (*executionRepository)(nil)

// scanExecution scans a row into an ExecutionModel.
func scanExecution(scanner interface{ Scan(...any) error }) (*ExecutionModel, error) {
	var model ExecutionModel
	err := scanner.Scan(
		&model.ID, &model.WorkflowID, &model.Status,
		&model.StartedAt, &model.FinishedAt, &model.TriggerData,
	)
	return &model, err
}

// scanLog scans a row into a LogModel.
func scanLog(scanner interface{ Scan(...any) error }) (*LogModel, error) {
	var model LogModel
	err := scanner.Scan(
		&model.ID, &model.ExecutionID, &model.NodeID, &model.Status,
		&model.Message, &model.Timestamp,
	)
	return &model, err
}

// CreateExecution inserts a new pending execution for workflowID.
func (r *executionRepository) CreateExecution(ctx context.Context, workflowID int64, triggerData map[string]any) (*store.Execution, error) {
	model := toExecutionModel(&store.Execution{
		WorkflowID:  workflowID,
		Status:      store.ExecutionPending,
		TriggerData: triggerData,
	})
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO executions (workflow_id, status, trigger_data) VALUES (?, ?, ?)`,
		model.WorkflowID, model.Status, model.TriggerData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert execution: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return r.GetExecution(ctx, id)
}

// GetExecution retrieves an execution by ID.
// Returns store.ErrNotFound if no matching execution exists.
func (r *executionRepository) GetExecution(ctx context.Context, id int64) (*store.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id,
	)
	model, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find execution: %w", err)
	}
	return model.toDomain(), nil
}

// UpdateExecution persists the status and timestamps of an execution.
func (r *executionRepository) UpdateExecution(ctx context.Context, exec *store.Execution) error {
	model := toExecutionModel(exec)
	result, err := r.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		model.Status, model.StartedAt, model.FinishedAt, model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendLog records one log line against an execution.
func (r *executionRepository) AppendLog(ctx context.Context, executionID int64, nodeID, status, message string) error {
	var msg *string
	if message != "" {
		msg = &message
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO execution_logs (execution_id, node_id, status, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		executionID, nodeID, status, msg, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// ListExecutions retrieves all executions of a workflow, newest first.
func (r *executionRepository) ListExecutions(ctx context.Context, workflowID int64) ([]*store.Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = ? ORDER BY id DESC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*store.Execution
	for rows.Next() {
		model, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		executions = append(executions, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

// ListLogs retrieves the log lines of an execution in the order they were
// appended. The insert id breaks ties between lines sharing a timestamp.
func (r *executionRepository) ListLogs(ctx context.Context, executionID int64) ([]*store.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM execution_logs WHERE execution_id = ? ORDER BY timestamp ASC, id ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*store.ExecutionLog
	for rows.Next() {
		model, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		logs = append(logs, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log rows: %w", err)
	}
	return logs, nil
}
