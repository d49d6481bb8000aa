package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/observability"
)

// Tiered fronts a durable remote store with a fast local store. Loads check
// local first and fall back to remote, warming local on a remote hit. Saves
// are mirrored to both tiers and succeed when either tier accepts the write.
// Every tier call is bounded by the configured timeout.
type Tiered struct {
	local   Store
	remote  Store
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTiered creates a two-tier store. Either tier may be nil.
func NewTiered(local, remote Store, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Tiered {
	return &Tiered{
		local:   local,
		remote:  remote,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

func (t *Tiered) Load(ctx context.Context, key string) ([]byte, error) {
	var localErr error
	if t.local != nil {
		data, err := t.loadTier(ctx, t.local, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			t.fail("local", "load", key, err)
			localErr = err
		}
	}

	if t.remote == nil {
		if localErr != nil {
			return nil, localErr
		}
		return nil, ErrNotFound
	}

	data, err := t.loadTier(ctx, t.remote, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.fail("remote", "load", key, err)
		}
		return nil, err
	}

	if t.local != nil {
		if err := t.saveTier(ctx, t.local, key, data); err != nil {
			t.fail("local", "save", key, err)
		} else {
			t.logger.Debug("warmed local cache from remote", "key", key, "bytes", len(data))
		}
	}
	return data, nil
}

func (t *Tiered) Save(ctx context.Context, key string, data []byte) error {
	var errs []error
	wrote := 0

	if t.local != nil {
		if err := t.saveTier(ctx, t.local, key, data); err != nil {
			t.fail("local", "save", key, err)
			errs = append(errs, fmt.Errorf("local: %w", err))
		} else {
			wrote++
		}
	}
	if t.remote != nil {
		if err := t.saveTier(ctx, t.remote, key, data); err != nil {
			t.fail("remote", "save", key, err)
			errs = append(errs, fmt.Errorf("remote: %w", err))
		} else {
			wrote++
		}
	}

	if wrote == 0 && len(errs) > 0 {
		return fmt.Errorf("save %s: %w", key, errors.Join(errs...))
	}
	return nil
}

func (t *Tiered) loadTier(ctx context.Context, s Store, key string) ([]byte, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return s.Load(ctx, key)
}

func (t *Tiered) saveTier(ctx context.Context, s Store, key string, data []byte) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return s.Save(ctx, key, data)
}

func (t *Tiered) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Tiered) fail(tier, op, key string, err error) {
	t.metrics.PersistErrors.WithLabelValues(tier, op).Inc()
	t.logger.Warn("persistence tier failed", "tier", tier, "op", op, "key", key, "error", err)
}

// Durable returns a view that reads and writes only the shared tier: the
// remote when one is configured, otherwise local. Records that coordinate
// between processes, like the build lease, must not be served from a
// per-process cache.
func (t *Tiered) Durable() Store {
	if t.remote != nil {
		return &tierView{parent: t, tier: t.remote, name: "remote"}
	}
	return &tierView{parent: t, tier: t.local, name: "local"}
}

type tierView struct {
	parent *Tiered
	tier   Store
	name   string
}

func (v *tierView) Load(ctx context.Context, key string) ([]byte, error) {
	if v.tier == nil {
		return nil, ErrNotFound
	}
	data, err := v.parent.loadTier(ctx, v.tier, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		v.parent.fail(v.name, "load", key, err)
	}
	return data, err
}

func (v *tierView) Save(ctx context.Context, key string, data []byte) error {
	if v.tier == nil {
		return fmt.Errorf("save %s: no tier configured", key)
	}
	if err := v.parent.saveTier(ctx, v.tier, key, data); err != nil {
		v.parent.fail(v.name, "save", key, err)
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
