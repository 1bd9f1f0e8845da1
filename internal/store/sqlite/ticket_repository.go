package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calafate/loom/internal/store"
)

// ticketColumns is the list of columns to select for ticket queries.
const ticketColumns = `id, user_id, title, description, status, assigned_to, created_at, updated_at`

// ticketRepository implements store.TicketStore using SQLite.
type ticketRepository struct {
	db *sql.DB
}

func newTicketRepository(db *sql.DB) *ticketRepository {
	return &ticketRepository{db: db}
}

// Ensure ticketRepository implements store.TicketStore.
var _ store.TicketStore = (*ticketRepository)(nil)

// scanTicket scans a row into a TicketModel.
func scanTicket(scanner interface{ Scan(...any) error }) (*TicketModel, error) {
	var model TicketModel
	err := scanner.Scan(
		&model.ID, &model.UserID, &model.Title, &model.Description,
		&model.Status, &model.AssignedTo, &model.CreatedAt, &model.UpdatedAt,
	)
	return &model, err
}

// CreateTicket inserts a new open ticket for userID.
func (r *ticketRepository) CreateTicket(ctx context.Context, userID int64, title, description string) (*store.Ticket, error) {
	now := time.Now().Unix()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tickets (user_id, title, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, title, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ticket: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return r.GetTicket(ctx, id)
}

// GetTicket retrieves a ticket by ID.
// Returns store.ErrNotFound if no matching ticket exists.
func (r *ticketRepository) GetTicket(ctx context.Context, id int64) (*store.Ticket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id,
	)
	model, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return model.toDomain(), nil
}

// ListTickets retrieves all tickets filed by userID, newest first.
func (r *ticketRepository) ListTickets(ctx context.Context, userID int64) ([]*store.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*store.Ticket
	for rows.Next() {
		model, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		tickets = append(tickets, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket rows: %w", err)
	}
	return tickets, nil
}

// AssignTicket records the assignee and moves the ticket to in_progress.
// Returns store.ErrNotFound if no matching ticket exists.
func (r *ticketRepository) AssignTicket(ctx context.Context, id, assigneeID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET assigned_to = ?, status = 'in_progress', updated_at = ? WHERE id = ?`,
		assigneeID, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to assign ticket: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateTicketStatus moves a ticket to a new status.
// Returns store.ErrNotFound if no matching ticket exists.
func (r *ticketRepository) UpdateTicketStatus(ctx context.Context, id int64, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	return requireRowsAffected(result)
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
