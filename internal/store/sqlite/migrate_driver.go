package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4/database"
)

// migrationTarget adapts the already open connection to migrate's
// database.Driver, so migrations run through the same SQLite driver the
// repositories use. Locking is a no-op: the busy_timeout pragma serializes
// concurrent writers.
type migrationTarget struct {
	db *sql.DB
}

func newMigrationTarget(db *sql.DB) *migrationTarget {
	return &migrationTarget{db: db}
}

var _ database.Driver = (*migrationTarget)(nil)

func (t *migrationTarget) Open(string) (database.Driver, error) {
	return nil, fmt.Errorf("migration target does not support URL open")
}

// Close is a no-op: the connection is owned by DB.
func (t *migrationTarget) Close() error { return nil }

func (t *migrationTarget) Lock() error   { return nil }
func (t *migrationTarget) Unlock() error { return nil }

func (t *migrationTarget) Run(migration io.Reader) error {
	stmts, err := io.ReadAll(migration)
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}
	if _, err := t.db.Exec(string(stmts)); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

func (t *migrationTarget) SetVersion(version int, dirty bool) error {
	if err := t.ensureVersionTable(); err != nil {
		return err
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin version update: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear version: %w", err)
	}
	if version >= 0 {
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set version: %w", err)
		}
	}
	return tx.Commit()
}

func (t *migrationTarget) Version() (int, bool, error) {
	if err := t.ensureVersionTable(); err != nil {
		return 0, false, err
	}

	var version int
	var dirty bool
	err := t.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

func (t *migrationTarget) Drop() error {
	rows, err := t.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, table := range tables {
		if _, err := t.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}

func (t *migrationTarget) ensureVersionTable() error {
	_, err := t.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL, dirty INTEGER NOT NULL)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}
