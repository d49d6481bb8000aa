// Package lease guards full rebuilds with an advisory, self-expiring lease
// stored alongside the rest of the persisted state. It is not a distributed
// lock: the backing store is last-writer-wins, so two holders racing inside
// the same instant can both believe they won. Expiry bounds the damage.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long a lease lives without renewal.
const DefaultTTL = 12 * time.Minute

// ErrHeld is returned when another holder owns an unexpired lease.
var ErrHeld = errors.New("lease held by another holder")

// Lease is the stored lease record.
type Lease struct {
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt,omitzero"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
}

// Active reports whether the lease is held and unexpired at now.
func (l Lease) Active(now time.Time) bool {
	return l.HolderID != "" && now.Before(l.ExpiresAt)
}

// Manager acquires, renews, and releases the lease for one holder identity.
type Manager struct {
	store  store.Store
	key    string
	holder string
	ttl    time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewManager creates a manager with a fresh random holder id.
func NewManager(st store.Store, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  st,
		key:    store.KeyLease,
		holder: uuid.NewString(),
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}
}

// HolderID returns this manager's holder identity.
func (m *Manager) HolderID() string { return m.holder }

// Current returns the stored lease, or a zero Lease when none exists.
func (m *Manager) Current(ctx context.Context) (Lease, error) {
	var l Lease
	if _, err := store.LoadJSON(ctx, m.store, m.key, &l); err != nil {
		return Lease{}, fmt.Errorf("load lease: %w", err)
	}
	return l, nil
}

// Acquire takes the lease when it is free, expired, or already ours, and
// extends it by the TTL. Re-acquiring our own lease renews it.
func (m *Manager) Acquire(ctx context.Context) (Lease, error) {
	now := m.clock.Now().UTC()
	cur, err := m.Current(ctx)
	if err != nil {
		return Lease{}, err
	}
	if cur.Active(now) && cur.HolderID != m.holder {
		return cur, fmt.Errorf("%w: %s until %s", ErrHeld, cur.HolderID, cur.ExpiresAt.Format(time.RFC3339))
	}

	next := Lease{HolderID: m.holder, AcquiredAt: now, ExpiresAt: now.Add(m.ttl)}
	if cur.HolderID == m.holder && cur.Active(now) {
		next.AcquiredAt = cur.AcquiredAt
	} else if cur.HolderID != "" {
		m.logger.Info("taking over expired lease", "previous_holder", cur.HolderID, "expired_at", cur.ExpiresAt)
	}
	if err := store.SaveJSON(ctx, m.store, m.key, next); err != nil {
		return Lease{}, fmt.Errorf("save lease: %w", err)
	}

	// Read back: a concurrent writer that saved after us wins.
	confirmed, err := m.Current(ctx)
	if err != nil {
		return Lease{}, err
	}
	if confirmed.HolderID != m.holder {
		return confirmed, fmt.Errorf("%w: lost race to %s", ErrHeld, confirmed.HolderID)
	}
	return confirmed, nil
}

// Renew extends a lease this manager already holds.
func (m *Manager) Renew(ctx context.Context) (Lease, error) {
	cur, err := m.Current(ctx)
	if err != nil {
		return Lease{}, err
	}
	if cur.HolderID != m.holder {
		return cur, fmt.Errorf("%w: renew by non-holder", ErrHeld)
	}
	return m.Acquire(ctx)
}

// Release clears the lease if this manager holds it. Releasing a lease held
// by someone else is a no-op.
func (m *Manager) Release(ctx context.Context) error {
	cur, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if cur.HolderID != m.holder {
		return nil
	}
	if err := store.SaveJSON(ctx, m.store, m.key, Lease{}); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
