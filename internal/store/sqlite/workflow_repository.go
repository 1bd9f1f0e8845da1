package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calafate/loom/internal/store"
)

// workflowColumns is the list of columns to select for workflow queries.
const workflowColumns = `id, user_id, name, definition, created_at, updated_at`

// workflowRepository implements store.WorkflowStore using SQLite.
type workflowRepository struct {
	db *sql.DB
}

func newWorkflowRepository(db *sql.DB) *workflowRepository {
	return &workflowRepository{db: db}
}

// Ensure workflowRepository implements store.WorkflowStore.
var _ store.WorkflowStore = (*workflowRepository)(nil)

// scanWorkflow scans a row into a WorkflowModel.
func scanWorkflow(scanner interface{ Scan(...any) error }) (*WorkflowModel, error) {
	var model WorkflowModel
	err := scanner.Scan(
		&model.ID, &model.UserID, &model.Name, &model.Definition,
		&model.CreatedAt, &model.UpdatedAt,
	)
	return &model, err
}

// CreateWorkflow inserts a new workflow owned by userID.
func (r *workflowRepository) CreateWorkflow(ctx context.Context, userID int64, name string, definition []byte) (*store.Workflow, error) {
	now := time.Now().Unix()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO workflows (user_id, name, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, name, string(definition), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return r.GetWorkflow(ctx, id)
}

// GetWorkflow retrieves a workflow by ID.
// Returns store.ErrNotFound if no matching workflow exists.
func (r *workflowRepository) GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id,
	)
	model, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow: %w", err)
	}
	return model.toDomain(), nil
}

// ListWorkflows retrieves all workflows owned by userID, newest first.
func (r *workflowRepository) ListWorkflows(ctx context.Context, userID int64) ([]*store.Workflow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workflows []*store.Workflow
	for rows.Next() {
		model, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		workflows = append(workflows, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}
	return workflows, nil
}

// UpdateWorkflow replaces the name and definition of an existing workflow.
// Returns store.ErrNotFound if no matching workflow exists.
func (r *workflowRepository) UpdateWorkflow(ctx context.Context, id int64, name string, definition []byte) (*store.Workflow, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, definition = ?, updated_at = ? WHERE id = ?`,
		name, string(definition), time.Now().Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, store.ErrNotFound
	}
	return r.GetWorkflow(ctx, id)
}

// DeleteWorkflow removes a workflow. Executions and their logs are removed
// by the foreign key cascade.
// Returns store.ErrNotFound if no matching workflow exists.
func (r *workflowRepository) DeleteWorkflow(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
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
