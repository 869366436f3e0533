// Package database wraps a pgx connection pool with per-call timeouts and
// storage error classification.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
)

// Config holds pool settings.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxConns     int32
	MinConns     int32
	QueryTimeout time.Duration
}

// DB is a thin pool wrapper. Every call gets a derived context bounded by
// QueryTimeout; deadline expiry surfaces as CodeStorageTimeout so callers can
// distinguish retryable timeouts from other storage failures.
type DB struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New connects, registers numeric <-> decimal codecs, and pings the database.
func New(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "invalid database configuration")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to create connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to ping database")
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DB{pool: pool, queryTimeout: timeout}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Row defers timeout cancellation until Scan so the query context stays alive
// for the deferred execution pgx performs inside QueryRow.
type Row struct {
	row    pgx.Row
	cancel context.CancelFunc
}

// Scan scans the row and classifies storage errors. pgx.ErrNoRows passes
// through untouched so repositories keep their not-found handling.
func (r Row) Scan(dest ...any) error {
	defer r.cancel()
	return classify(r.row.Scan(dest...))
}

// Rows keeps the timeout alive across iteration and cancels on Close.
type Rows struct {
	pgx.Rows
	cancel context.CancelFunc
}

// Close closes the underlying rows and releases the query timeout.
func (r *Rows) Close() {
	r.Rows.Close()
	r.cancel()
}

// Err surfaces iteration errors with storage classification.
func (r *Rows) Err() error {
	return classify(r.Rows.Err())
}

// QueryRow runs a single-row query within the configured timeout.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	qctx, cancel := context.WithTimeout(ctx, db.queryTimeout)
	return Row{row: db.pool.QueryRow(qctx, sql, args...), cancel: cancel}
}

// Query runs a multi-row query within the configured timeout. The caller must
// Close the returned rows.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	qctx, cancel := context.WithTimeout(ctx, db.queryTimeout)
	rows, err := db.pool.Query(qctx, sql, args...)
	if err != nil {
		cancel()
		return nil, classify(err)
	}
	return &Rows{Rows: rows, cancel: cancel}, nil
}

// Exec runs a statement within the configured timeout.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	qctx, cancel := context.WithTimeout(ctx, db.queryTimeout)
	defer cancel()
	tag, err := db.pool.Exec(qctx, sql, args...)
	return tag, classify(err)
}

// InTransaction runs fn inside a transaction. The whole transaction shares one
// timeout window. fn's error aborts the transaction and is returned as-is.
func (db *DB) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	txctx, cancel := context.WithTimeout(ctx, db.queryTimeout)
	defer cancel()
	err := pgx.BeginFunc(txctx, db.pool, fn)
	return classify(err)
}

// classify maps context deadline errors to the retryable timeout code. Coded
// errors and pgx.ErrNoRows pass through unchanged; everything else stays raw
// for the repository layer to wrap with operation context.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeStorageTimeout, "storage operation timed out")
	}
	return err
}
