// Package mysql provides the MySQL adapter for the shared coordination
// store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/flockwork/flockwork/pkg/observability/logger"
)

// connectTimeout bounds the initial ping when the pool is opened.
const connectTimeout = 5 * time.Second

// healthTimeout bounds the ping behind HealthCheck so a wedged pool cannot
// stall the whole health report.
const healthTimeout = 2 * time.Second

// MySQLAdapter provides MySQL connectivity with pooled connections.
type MySQLAdapter struct {
	db     *sql.DB
	logger logger.Logger
	config Config
}

// Config holds MySQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// Cosa fa: apre il pool MySQL, controlla il DSN e verifica la connessione
// con un ping iniziale.
// Cosa NON fa: non crea lo schema di coordinamento, se ne occupa EnsureSchema.
// Esempio minimo: adapter, err := mysql.NewMySQLAdapter(cfg, log)
func NewMySQLAdapter(cfg Config, log logger.Logger) (*MySQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	dsn, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	// DATETIME columns must scan into time.Time for lease and heartbeat
	// comparisons to work.
	if !dsn.ParseTime {
		return nil, fmt.Errorf("mysql DSN must set parseTime=true")
	}

	db, err := sql.Open("mysql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	log.Info("MySQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)

	return &MySQLAdapter{db: db, logger: log, config: cfg}, nil
}

// DB returns the underlying *sql.DB for direct access when needed.
func (a *MySQLAdapter) DB() *sql.DB {
	return a.db
}

// Ping reports whether the database is reachable.
func (a *MySQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck pings the database under healthTimeout.
func (a *MySQLAdapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := a.db.PingContext(hcCtx); err != nil {
		return fmt.Errorf("mysql health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *MySQLAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close mysql connection: %w", err)
	}
	a.logger.Info("MySQL connection closed")
	return nil
}

// ExecContext runs a statement under the adapter's query timeout.
func (a *MySQLAdapter) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	queryCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()
	return a.db.ExecContext(queryCtx, query, args...)
}

// QueryContext runs a query. The adapter's query timeout is not applied:
// rows read lazily from the connection, so a timeout context cancelled on
// return would tear them down under the caller. Callers bound queries with
// their own deadline.
func (a *MySQLAdapter) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query. Like QueryContext it relies on
// the caller's deadline; the row is only read at Scan time.
func (a *MySQLAdapter) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

// withQueryTimeout caps statements that arrive without a deadline of their
// own. Callers that already set one keep it.
func (a *MySQLAdapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}

// IsUniqueViolation reports whether err is a duplicate key error.
func IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
