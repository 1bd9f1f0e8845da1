// Package sqlite implements the store interfaces on an embedded SQLite
// database. Schema changes ship as embedded migration files and are applied
// on open.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/calafate/loom/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite connection and exposes repository accessors.
type DB struct {
	conn *sql.DB

	workflows  *workflowRepository
	executions *executionRepository
	tickets    *ticketRepository
	users      *userRepository
}

// NewDB opens (creating if necessary) the database at dbPath, enables WAL
// mode and foreign keys, and applies pending migrations. The parent
// directory is created with 0700 permissions. An existing database file is
// backed up to dbPath+".bak" before migrations run.
func NewDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if _, err := os.Stat(dbPath); err == nil {
		if err := backupFile(dbPath, dbPath+".bak"); err != nil {
			return nil, fmt.Errorf("failed to back up database: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Info(log.CatDB, "database ready", "path", dbPath)

	return &DB{
		conn:       conn,
		workflows:  newWorkflowRepository(conn),
		executions: newExecutionRepository(conn),
		tickets:    newTicketRepository(conn),
		users:      newUserRepository(conn),
	}, nil
}

func runMigrations(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", newMigrationTarget(conn))
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func backupFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}

// Connection returns the underlying *sql.DB.
func (d *DB) Connection() *sql.DB {
	return d.conn
}

// Workflows returns the workflow repository.
func (d *DB) Workflows() *workflowRepository { return d.workflows }

// Executions returns the execution repository.
func (d *DB) Executions() *executionRepository { return d.executions }

// Tickets returns the ticket repository.
func (d *DB) Tickets() *ticketRepository { return d.tickets }

// Users returns the user repository.
func (d *DB) Users() *userRepository { return d.users }

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
