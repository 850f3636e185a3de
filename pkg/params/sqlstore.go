package params

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/store"
)

// SQLStore persists parameters in the relational coordination store.
type SQLStore struct {
	q      store.Querier
	log    logger.Logger
	insert string
	read   string
}

// NewSQLStore builds a parameter store over the given querier. Statements
// are rebound once for the dialect.
func NewSQLStore(q store.Querier, d store.Dialect, log logger.Logger) (*SQLStore, error) {
	if q == nil {
		return nil, paramsError(ErrInvalidArgument, "querier is required")
	}
	if log == nil {
		return nil, paramsError(ErrInvalidArgument, "logger is required")
	}
	return &SQLStore{
		q:      q,
		log:    log,
		insert: d.InsertIgnore(store.ParametersTable, "id", "id", "value"),
		read:   d.Rebind("SELECT value FROM " + store.ParametersTable + " WHERE id = ?"),
	}, nil
}

// Seed inserts the parameter unless a row with the same id already exists.
func (s *SQLStore) Seed(ctx context.Context, id string, value float64) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return paramsError(ErrInvalidArgument, "parameter id is required")
	}

	result, err := s.q.ExecContext(ctx, s.insert, id, value)
	if err != nil {
		return fmt.Errorf("seed parameter %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		s.log.Debug("parameter seeded", "id", id, "value", value)
	}
	return nil
}

// Number reads the parameter value for id.
func (s *SQLStore) Number(ctx context.Context, id string) (float64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, paramsError(ErrInvalidArgument, "parameter id is required")
	}

	var value float64
	err := s.q.QueryRowContext(ctx, s.read, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, paramsError(ErrNotFound, "parameter "+id)
	}
	if err != nil {
		return 0, fmt.Errorf("read parameter %s: %w", id, err)
	}
	return value, nil
}
