// Package db provides SQLite database access for Cadence.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/logging"
	_ "modernc.org/sqlite"
)

// Shared database errors.
var (
	// ErrConcurrencyConflict is returned when a transactional write
	// races with another writer. Callers should retry with fresh reads.
	ErrConcurrencyConflict = errors.New("concurrency conflict, retry the operation")
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting repository methods run standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a SQLite connection pool.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

var memCounter atomic.Int64

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return open(dsn)
}

// OpenInMemory opens a private in-memory database, used in tests.
func OpenInMemory() (*DB, error) {
	// Unique name per call so parallel tests don't share state.
	dsn := fmt.Sprintf("file:cadence-mem-%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", memCounter.Add(1))
	return open(dsn)
}

func open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection keeps
	// transactions serialized instead of failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: conn, logger: logging.Component("db")}, nil
}

// Migrate applies the schema. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	d.logger.Debug().Msg("schema applied")
	return nil
}

// WithTx runs fn inside a transaction, rolling back on error. Lost
// write races surface as ErrConcurrencyConflict.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			d.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		if isBusy(err) {
			return ErrConcurrencyConflict
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
