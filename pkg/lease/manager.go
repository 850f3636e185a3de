package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/periodic"
)

const (
	DefaultLeasePeriod   = 30 * time.Second
	DefaultRenewalFactor = 3
)

// Config controls one lease manager.
type Config struct {
	// Owner identifies this process in the lease record. Defaults to
	// hostname plus a random suffix so two replicas on one host stay
	// distinguishable.
	Owner string
	// LeasePeriod is how long each successful claim keeps the lease alive.
	LeasePeriod time.Duration
	// RenewalFactor divides LeasePeriod into the renewal interval, so the
	// holder renews well before expiry.
	RenewalFactor int
	// AllowRebalance permits voluntary relinquishment through Relinquish.
	AllowRebalance bool
	// Relinquish is consulted on each renewal tick when AllowRebalance is
	// set. Returning true skips that renewal and lets the lease expire.
	Relinquish func() bool
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Owner) == "" {
		c.Owner = defaultOwner()
	}
	if c.LeasePeriod <= 0 {
		c.LeasePeriod = DefaultLeasePeriod
	}
	if c.RenewalFactor <= 0 {
		c.RenewalFactor = DefaultRenewalFactor
	}
}

// Manager runs the claim loop for one lease name and caches the outcome of
// the most recent attempt. The cache is exactly that: the store stays the
// source of truth, and any store error flips the cache to not-holder.
type Manager struct {
	name   string
	store  Store
	log    logger.Logger
	config Config

	holder atomic.Bool

	mu        sync.Mutex
	lastOwner string
	runner    *periodic.Runner
}

// NewManager creates a manager for the named lease. The claim loop starts
// only on Start.
func NewManager(name string, store Store, log logger.Logger, cfg Config) (*Manager, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, leaseError(ErrInvalidArgument, "lease name is required")
	}
	if store == nil {
		return nil, leaseError(ErrInvalidArgument, "store is required")
	}
	if log == nil {
		return nil, leaseError(ErrInvalidArgument, "logger is required")
	}

	cfg.normalize()
	return &Manager{
		name:   name,
		store:  store,
		log:    log.With("lease", name, "owner", cfg.Owner),
		config: cfg,
	}, nil
}

// Name returns the lease name.
func (m *Manager) Name() string {
	return m.name
}

// Owner returns this process's claim identity.
func (m *Manager) Owner() string {
	return m.config.Owner
}

// IsHolder reports whether the most recent claim attempt succeeded. It is
// false until the first successful claim and false again after any failed
// or lost tick.
func (m *Manager) IsHolder() bool {
	return m.holder.Load()
}

// CurrentHolder returns the owner observed by the most recent claim attempt,
// or empty when no record has been seen yet.
func (m *Manager) CurrentHolder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOwner
}

// Start launches the renewal loop at LeasePeriod divided by RenewalFactor.
// The first claim attempt fires immediately.
func (m *Manager) Start(ctx context.Context) error {
	interval := m.config.LeasePeriod / time.Duration(m.config.RenewalFactor)
	if interval <= 0 {
		interval = m.config.LeasePeriod
	}

	runner, err := periodic.NewRunner("lease:"+m.name, interval, m.claimTick, m.log)
	if err != nil {
		return fmt.Errorf("lease %s renewal loop: %w", m.name, err)
	}

	m.mu.Lock()
	if m.runner != nil {
		m.mu.Unlock()
		return leaseError(ErrConflict, "lease manager "+m.name+" already started")
	}
	m.runner = runner
	m.mu.Unlock()

	return runner.Start(ctx)
}

// Stop ends the renewal loop and drops holdership locally. The record is
// left to expire on its own; another replica takes over after ExpiresAt.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	runner := m.runner
	m.mu.Unlock()

	m.setHolder(false)
	if runner == nil {
		return nil
	}
	return runner.Stop(ctx)
}

func (m *Manager) claimTick(ctx context.Context) error {
	outcome, err := m.Claim(ctx)
	if err != nil {
		return fmt.Errorf("claim lease %s: %w", m.name, err)
	}
	if outcome == OutcomeLostRace {
		m.log.Debug("lease race lost", "holder", m.CurrentHolder())
	}
	return nil
}

// Claim runs one pass of the claim algorithm and updates the holder cache.
// The renewal loop calls it on every tick; tests call it directly.
func (m *Manager) Claim(ctx context.Context) (ClaimOutcome, error) {
	outcome, err := m.claim(ctx)
	m.setHolder(outcome.Holding())
	recordClaim(m.name, outcome)
	return outcome, err
}

func (m *Manager) claim(ctx context.Context) (ClaimOutcome, error) {
	now := time.Now().UTC()

	rec, err := m.store.Get(ctx, m.name)
	if errors.Is(err, ErrNotFound) {
		fresh := Record{
			Name:       m.name,
			Owner:      m.config.Owner,
			AcquiredAt: now,
			ExpiresAt:  now.Add(m.config.LeasePeriod),
			Version:    1,
		}
		if insertErr := m.store.Insert(ctx, fresh); insertErr != nil {
			if errors.Is(insertErr, ErrConflict) {
				return OutcomeLostRace, nil
			}
			return OutcomeErrored, insertErr
		}
		m.observeOwner(m.config.Owner)
		m.log.Info("lease acquired", "expires_at", fresh.ExpiresAt)
		return OutcomeAcquired, nil
	}
	if err != nil {
		return OutcomeErrored, err
	}
	m.observeOwner(rec.Owner)

	if rec.Owner == m.config.Owner {
		if m.shouldRelinquish() {
			m.log.Info("lease relinquished", "expires_at", rec.ExpiresAt)
			return OutcomeRelinquished, nil
		}
		renewed := rec
		renewed.ExpiresAt = now.Add(m.config.LeasePeriod)
		updated, updateErr := m.store.Update(ctx, renewed, rec.Version)
		if updateErr != nil {
			return OutcomeErrored, updateErr
		}
		if !updated {
			return OutcomeLostRace, nil
		}
		return OutcomeRenewed, nil
	}

	if rec.Expired(now) {
		takeover := Record{
			Name:       m.name,
			Owner:      m.config.Owner,
			AcquiredAt: now,
			ExpiresAt:  now.Add(m.config.LeasePeriod),
			Version:    rec.Version,
		}
		updated, updateErr := m.store.Update(ctx, takeover, rec.Version)
		if updateErr != nil {
			return OutcomeErrored, updateErr
		}
		if !updated {
			return OutcomeLostRace, nil
		}
		m.observeOwner(m.config.Owner)
		m.log.Info("lease taken over", "previous_owner", rec.Owner, "expires_at", takeover.ExpiresAt)
		return OutcomeTakenOver, nil
	}

	return OutcomeHeldByOther, nil
}

func (m *Manager) shouldRelinquish() bool {
	return m.config.AllowRebalance && m.config.Relinquish != nil && m.config.Relinquish()
}

func (m *Manager) setHolder(holding bool) {
	was := m.holder.Swap(holding)
	recordHolder(m.name, holding)
	if was && !holding {
		m.log.Info("lease holdership lost")
	}
	if !was && holding {
		m.log.Info("lease holdership gained")
	}
}

func (m *Manager) observeOwner(owner string) {
	m.mu.Lock()
	m.lastOwner = owner
	m.mu.Unlock()
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "replica"
	}
	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return host
	}
	return host + "-" + hex.EncodeToString(raw)
}
