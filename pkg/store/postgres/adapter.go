// Package postgres provides the PostgreSQL adapter for the shared
// coordination store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/flockwork/flockwork/pkg/observability/logger"
)

// connectTimeout bounds the initial ping when the pool is opened.
const connectTimeout = 5 * time.Second

// healthTimeout bounds the ping behind HealthCheck so a wedged pool cannot
// stall the whole health report.
const healthTimeout = 2 * time.Second

// PostgreSQLAdapter provides PostgreSQL connectivity with pooled connections.
type PostgreSQLAdapter struct {
	db     *sql.DB
	logger logger.Logger
	config Config
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// NewPostgreSQLAdapter opens a pooled connection and verifies it with an
// initial ping.
func NewPostgreSQLAdapter(cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("PostgreSQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)

	return &PostgreSQLAdapter{db: db, logger: log, config: cfg}, nil
}

// DB returns the underlying *sql.DB for direct access when needed.
func (a *PostgreSQLAdapter) DB() *sql.DB {
	return a.db
}

// Ping reports whether the database is reachable.
func (a *PostgreSQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck pings the database under healthTimeout.
func (a *PostgreSQLAdapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := a.db.PingContext(hcCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *PostgreSQLAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	a.logger.Info("PostgreSQL connection closed")
	return nil
}

// ExecContext runs a statement under the adapter's query timeout.
func (a *PostgreSQLAdapter) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	queryCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()
	return a.db.ExecContext(queryCtx, query, args...)
}

// QueryContext runs a query. The adapter's query timeout is not applied:
// rows read lazily from the connection, so a timeout context cancelled on
// return would tear them down under the caller. Callers bound queries with
// their own deadline.
func (a *PostgreSQLAdapter) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query. Like QueryContext it relies on
// the caller's deadline; the row is only read at Scan time.
func (a *PostgreSQLAdapter) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

// withQueryTimeout caps statements that arrive without a deadline of their
// own. Callers that already set one keep it.
func (a *PostgreSQLAdapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
