package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/flockwork/flockwork/pkg/config"
	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/store/mysql"
	"github.com/flockwork/flockwork/pkg/store/postgres"
	"github.com/flockwork/flockwork/pkg/store/redis"
)

// SQLAdapter is the contract both relational adapters satisfy. There is no
// transaction helper on purpose: every coordination write is a single
// version-fenced statement, so atomicity never spans statements.
type SQLAdapter interface {
	Querier
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// SQL bundles a relational adapter with the dialect metadata and driver
// error classifier the domain stores need.
type SQL struct {
	DB          SQLAdapter
	Dialect     Dialect
	IsDuplicate func(error) bool
}

// Cosa fa: seleziona e inizializza l'adapter relazionale in base alla config.
// Cosa NON fa: non gestisce fallback tra driver diversi.
// Esempio minimo: s, err := store.NewSQL(cfg.Store.SQL, log)
func NewSQL(cfg config.SQLConfig, log logger.Logger) (*SQL, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres":
		adp, err := postgres.NewPostgreSQLAdapter(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &SQL{DB: adp, Dialect: DialectPostgres, IsDuplicate: postgres.IsUniqueViolation}, nil
	case "mysql":
		adp, err := mysql.NewMySQLAdapter(mysql.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &SQL{DB: adp, Dialect: DialectMySQL, IsDuplicate: mysql.IsUniqueViolation}, nil
	default:
		return nil, fmt.Errorf("unsupported store.sql.driver %q (supported: postgres, mysql)", cfg.Driver)
	}
}

// NewCoordinationAdapter initializes the Redis backend for leases and
// parameters. Returns nil when no Redis URL is configured; coordination
// then flows through the relational store.
func NewCoordinationAdapter(cfg config.RedisConfig, log logger.Logger) (*redis.RedisAdapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}
	return redis.NewRedisAdapter(redis.Config{
		URL:              cfg.URL,
		MaxConns:         cfg.MaxConns,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}
