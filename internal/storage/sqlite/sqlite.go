// Package sqlite implements graph storage on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/untoldecay/taskgraph/internal/storage"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the SQLite-backed storage implementation. One Store owns one
// database file exclusively for the life of the process.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

var _ storage.Storage = (*Store)(nil)

// New opens (creating if needed) the database at path, acquires an exclusive
// file lock, and applies schema and migrations. Multi-process access is not
// supported; a second process fails fast here instead of fighting over the
// write lock.
func New(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("database %s is in use by another process", path)
	}

	// _txlock=immediate makes every write transaction take the lock up
	// front, so concurrent writers queue on busy_timeout instead of
	// deadlocking mid-transaction.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path, lock: lock}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.runMigrations(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database and releases the file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// Checkpoint truncates the WAL back into the main database file. Called
// periodically from the serve loop so the single-file promise holds even
// under a long-running server.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// RunInTransaction executes fn within a single transaction. fn returning
// nil commits; an error or panic rolls back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{q: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer abstracts *sql.DB and *sql.Tx so entity operations can run either
// standalone or inside RunInTransaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore adapts a *sql.Tx to the storage.Transaction interface.
type txStore struct {
	q queryer
}

var _ storage.Transaction = (*txStore)(nil)

// Timestamps are stored as RFC3339 UTC text.

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Older rows may carry the default DATETIME format.
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
