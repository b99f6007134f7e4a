// Package sqlite provides a SQLite-backed implementation of the storage.Store
// interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Commit applies a mutation set in one transaction: group upsert, optional
// expense upsert or delete, activity append. Either everything becomes
// durable or nothing does.
func (s *SQLiteStore) Commit(ctx context.Context, m *storage.Mutation) error {
	if m.Group == nil || m.Activity == nil {
		return apperr.Storage(nil, "mutation requires a group document and an activity record")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := putGroupTx(ctx, tx, m.Group); err != nil {
		return err
	}
	if m.PutExpense != nil {
		if err := putExpenseTx(ctx, tx, m.PutExpense); err != nil {
			return err
		}
	}
	if m.DeleteExpenseID != "" {
		if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", m.DeleteExpenseID); err != nil {
			return apperr.Storage(err, "failed to delete expense %s", m.DeleteExpenseID)
		}
	}
	if err := appendActivityTx(ctx, tx, m.Activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "failed to commit mutation")
	}
	return nil
}
