package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calafate/loom/internal/store"
)

// userRepository implements store.UserStore using SQLite.
type userRepository struct {
	db *sql.DB
}

func newUserRepository(db *sql.DB) *userRepository {
	return &userRepository{db: db}
}

// Ensure userRepository implements store.UserStore.
var _ store.UserStore = (*userRepository)(nil)

func scanUser(scanner interface{ Scan(...any) error }) (*UserModel, error) {
	var model UserModel
	err := scanner.Scan(&model.ID, &model.Email, &model.CreatedAt)
	return &model, err
}

// CreateUser inserts a new user.
func (r *userRepository) CreateUser(ctx context.Context, email string) (*store.User, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, created_at) VALUES (?, ?)`,
		email, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return r.GetUser(ctx, id)
}

// GetUser retrieves a user by ID.
// Returns store.ErrNotFound if no matching user exists.
func (r *userRepository) GetUser(ctx context.Context, id int64) (*store.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, id)
	model, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return model.toDomain(), nil
}

// GetUserByEmail retrieves a user by e-mail address.
// Returns store.ErrNotFound if no matching user exists.
func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE email = ?`, email)
	model, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return model.toDomain(), nil
}
