package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/store"
)

// SQLStore persists lease records in the relational coordination store. The
// version guard rides on plain UPDATE ... WHERE version = ?, so it works the
// same on both supported dialects.
type SQLStore struct {
	q           store.Querier
	log         logger.Logger
	isDuplicate func(error) bool
	get         string
	insert      string
	update      string
}

// NewSQLStore builds a lease store over the given querier. isDuplicate is the
// driver's unique-violation classifier, used to turn a racing insert into
// ErrConflict.
func NewSQLStore(q store.Querier, d store.Dialect, isDuplicate func(error) bool, log logger.Logger) (*SQLStore, error) {
	if q == nil {
		return nil, leaseError(ErrInvalidArgument, "querier is required")
	}
	if isDuplicate == nil {
		return nil, leaseError(ErrInvalidArgument, "duplicate classifier is required")
	}
	if log == nil {
		return nil, leaseError(ErrInvalidArgument, "logger is required")
	}
	return &SQLStore{
		q:           q,
		log:         log,
		isDuplicate: isDuplicate,
		get: d.Rebind("SELECT owner, acquired_at, expires_at, version FROM " +
			store.LeasesTable + " WHERE name = ?"),
		insert: d.Rebind("INSERT INTO " + store.LeasesTable +
			" (name, owner, acquired_at, expires_at, version) VALUES (?, ?, ?, ?, ?)"),
		update: d.Rebind("UPDATE " + store.LeasesTable +
			" SET owner = ?, acquired_at = ?, expires_at = ?, version = version + 1" +
			" WHERE name = ? AND version = ?"),
	}, nil
}

// Get returns the lease record for name.
func (s *SQLStore) Get(ctx context.Context, name string) (Record, error) {
	rec := Record{Name: name}
	err := s.q.QueryRowContext(ctx, s.get, name).
		Scan(&rec.Owner, &rec.AcquiredAt, &rec.ExpiresAt, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, leaseError(ErrNotFound, "lease "+name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read lease %s: %w", name, err)
	}
	rec.AcquiredAt = rec.AcquiredAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

// Insert creates the lease record.
func (s *SQLStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.q.ExecContext(ctx, s.insert,
		rec.Name, rec.Owner, rec.AcquiredAt.UTC(), rec.ExpiresAt.UTC(), rec.Version)
	if err != nil {
		if s.isDuplicate(err) {
			return leaseError(ErrConflict, "lease "+rec.Name+" already exists")
		}
		return fmt.Errorf("insert lease %s: %w", rec.Name, err)
	}
	return nil
}

// Update rewrites ownership fields under the version guard.
func (s *SQLStore) Update(ctx context.Context, rec Record, expectedVersion int64) (bool, error) {
	result, err := s.q.ExecContext(ctx, s.update,
		rec.Owner, rec.AcquiredAt.UTC(), rec.ExpiresAt.UTC(), rec.Name, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update lease %s: %w", rec.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lease %s: %w", rec.Name, err)
	}
	return affected > 0, nil
}
