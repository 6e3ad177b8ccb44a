// Package database provides the connection pool and transactional
// primitives every other storage package builds on: a plain *sql.DB, a
// withTx helper, and scoped Postgres advisory lock acquisition.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Open establishes a PostgreSQL connection using the provided DSN and
// verifies connectivity with a ping. The returned *sql.DB must be closed by
// the caller.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle, connMaxLifetimeSec int) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(connMaxLifetimeSec) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. No component mutates projection or event rows
// outside of a transaction acquired this way.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SetStatementTimeout sets a statement_timeout for the lifetime of tx, used
// by read-only health-check paths so a wedged connection cannot hang a
// request indefinitely.
func SetStatementTimeout(ctx context.Context, tx *sql.Tx, timeoutMS int) error {
	if timeoutMS <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMS))
	return err
}

// RunLockNamespace is the advisory-lock namespace run-execution leases use
// to serialize the claim window per run_id (see internal/lease).
const RunLockNamespace = 215

// TryAdvisoryLockOnRunID acquires a transaction-scoped advisory lock keyed
// by hashtext(runID) in the RunLockNamespace, serializing the run claim
// window per run_id. The lock is released automatically at transaction end
// (commit or rollback) — pg_try_advisory_xact_lock, not the session-scoped
// variant, so there is no explicit unlock call and no leak across
// connection pooling.
func TryAdvisoryLockOnRunID(ctx context.Context, tx *sql.Tx, runID string) (bool, error) {
	var locked bool
	err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1, hashtext($2))`, RunLockNamespace, runID).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	return locked, nil
}
