package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// Adapter is the SQLite-backed implementation of Port.
type Adapter struct {
	db  dbHandle
	log zerolog.Logger
}

// dbHandle is satisfied by both *sql.DB and *sql.Tx so repository methods
// work unchanged whether called directly or inside WithTransaction.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open creates the SQLite connection, applies the schema, and returns an
// Adapter ready to serve Port calls.
func Open(dbPath string, log zerolog.Logger) (*Adapter, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Adapter{db: conn, log: log.With().Str("module", "persistence").Logger()}, nil
}

// Close closes the underlying connection. A no-op when called on a
// transaction-scoped Adapter (WithTransaction commits/rolls back itself).
func (a *Adapter) Close() error {
	if db, ok := a.db.(*sql.DB); ok {
		return db.Close()
	}
	return nil
}

// WithTransaction runs fn against an Adapter bound to a single sql.Tx.
func (a *Adapter) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Port) error) error {
	db, ok := a.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("nested transactions are not supported")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txAdapter := &Adapter{db: tx, log: a.log}
	if err := fn(ctx, txAdapter); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.log.Error().Err(rbErr).Msg("rollback failed after transaction error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
