// Package sources owns per-source continuation state between adapter polls:
// known record ids, last values, failure counts, derived health, and the next
// time the source is due.
package sources

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/jonboulle/clockwork"
)

// Backoff multiples of the base interval for failing sources.
const (
	degradedFactor     = 3
	offlineFactor      = 12
	offlineDayFactor   = 72
	offlineWeekFactor  = 288
	offlineDayAfter    = 24 * time.Hour
	offlineWeekAfter   = 7 * 24 * time.Hour
	maxLastErrorLength = 500
)

// Tracker holds the state of every source. It is mutated only by the cycle
// that owns it, after all adapters for that cycle have returned.
type Tracker struct {
	polling config.PollingConfig
	store   store.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	states map[domain.Source]*domain.SourceState
}

// NewTracker creates a tracker with every source HEALTHY and due now.
func NewTracker(polling config.PollingConfig, st store.Store, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Tracker {
	return &Tracker{
		polling: polling,
		store:   st,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		states:  make(map[domain.Source]*domain.SourceState),
	}
}

// Warm restores persisted source state. Unknown sources in the stored
// document are ignored.
func (t *Tracker) Warm(ctx context.Context) error {
	var stored []domain.SourceState
	found, err := store.LoadJSON(ctx, t.store, store.KeySources, &stored)
	if err != nil || !found {
		return err
	}
	for i := range stored {
		st := stored[i]
		if !st.Source.Valid() {
			continue
		}
		st.Health = Health(st.ConsecutiveFailures, t.polling.OfflineAfter)
		t.states[st.Source] = &st
		t.observe(st)
	}
	t.logger.Info("source state warmed", "sources", len(t.states))
	return nil
}

// State returns a copy of the state for src.
func (t *Tracker) State(src domain.Source) domain.SourceState {
	st := *t.get(src)
	st.KnownRecordIDs = append([]string(nil), st.KnownRecordIDs...)
	st.LastValues = maps.Clone(st.LastValues)
	st.LastTimestamps = maps.Clone(st.LastTimestamps)
	return st
}

// States returns a copy of every tracked source's state in AllSources order.
func (t *Tracker) States() []domain.SourceState {
	out := make([]domain.SourceState, 0, len(t.states))
	for _, src := range domain.AllSources {
		if _, ok := t.states[src]; ok {
			out = append(out, t.State(src))
		}
	}
	return out
}

// Due reports whether src should be polled at now.
func (t *Tracker) Due(src domain.Source, now time.Time) bool {
	next := t.get(src).NextPollAt
	return next.IsZero() || !now.Before(next)
}

// RecordSuccess merges the adapter's state update, resets the failure count,
// and schedules the next poll at the source's healthy cadence.
func (t *Tracker) RecordSuccess(src domain.Source, update domain.StateUpdate) {
	now := t.clock.Now().UTC()
	st := t.get(src)
	recovered := st.ConsecutiveFailures > 0

	st.LastPollAt = now
	st.LastSuccessAt = now
	st.ConsecutiveFailures = 0
	st.FirstFailureAt = time.Time{}
	st.LastError = ""
	st.Health = domain.HealthHealthy
	merge(st, update, t.polling.MaxKnownIDs)
	st.NextPollAt = now.Add(NextInterval(t.polling, *st, now))

	if recovered {
		t.logger.Info("source recovered", "source", src)
	}
	t.observe(*st)
}

// RecordFailure increments the failure count, downgrades health, and backs
// off the next poll. Stored continuation state is left untouched.
func (t *Tracker) RecordFailure(src domain.Source, err error) {
	now := t.clock.Now().UTC()
	st := t.get(src)

	st.LastPollAt = now
	if st.ConsecutiveFailures == 0 {
		st.FirstFailureAt = now
	}
	st.ConsecutiveFailures++
	st.LastError = truncate(err.Error(), maxLastErrorLength)
	prev := st.Health
	st.Health = Health(st.ConsecutiveFailures, t.polling.OfflineAfter)
	st.NextPollAt = now.Add(NextInterval(t.polling, *st, now))

	level := slog.LevelWarn
	if st.Health == domain.HealthOffline && prev != domain.HealthOffline {
		level = slog.LevelError
	}
	t.logger.Log(context.Background(), level, "source poll failed",
		"source", src,
		"consecutive_failures", st.ConsecutiveFailures,
		"health", st.Health,
		"next_poll_at", st.NextPollAt,
		"error", err,
	)
	t.observe(*st)
}

// Persist writes every tracked state. Failures are logged.
func (t *Tracker) Persist(ctx context.Context) {
	if err := store.SaveJSON(ctx, t.store, store.KeySources, t.States()); err != nil {
		t.logger.Warn("source state persist failed; continuing in memory", "error", err)
	}
}

// Health derives the status from consecutive failures: none is HEALTHY,
// fewer than offlineAfter is DEGRADED, otherwise OFFLINE.
func Health(failures, offlineAfter int) domain.Health {
	switch {
	case failures <= 0:
		return domain.HealthHealthy
	case failures < offlineAfter:
		return domain.HealthDegraded
	default:
		return domain.HealthOffline
	}
}

// NextInterval returns how long to wait before polling the source again.
// Healthy sources use their configured multiple of the base interval; failing
// sources back off further the longer they stay down. The result never
// exceeds the configured maximum.
func NextInterval(p config.PollingConfig, st domain.SourceState, now time.Time) time.Duration {
	interval := p.Interval(st.Source)

	factor := 0
	switch st.Health {
	case domain.HealthDegraded:
		factor = degradedFactor
	case domain.HealthOffline:
		down := now.Sub(st.FirstFailureAt)
		switch {
		case st.FirstFailureAt.IsZero():
			factor = offlineFactor
		case down > offlineWeekAfter:
			factor = offlineWeekFactor
		case down > offlineDayAfter:
			factor = offlineDayFactor
		default:
			factor = offlineFactor
		}
	}
	if backoff := p.BaseInterval * time.Duration(factor); backoff > interval {
		interval = backoff
	}
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		interval = p.MaxInterval
	}
	return interval
}

func (t *Tracker) get(src domain.Source) *domain.SourceState {
	st, ok := t.states[src]
	if !ok {
		st = &domain.SourceState{Source: src, Health: domain.HealthHealthy}
		t.states[src] = st
	}
	return st
}

func (t *Tracker) observe(st domain.SourceState) {
	v := 0.0
	switch st.Health {
	case domain.HealthDegraded:
		v = 1
	case domain.HealthOffline:
		v = 2
	}
	t.metrics.SourceHealth.WithLabelValues(string(st.Source)).Set(v)
}

// merge applies a partial update. A non-nil id list replaces the known set
// and is capped to the newest maxIDs entries. Value and timestamp maps are
// merged key by key, and the timestamp map is held to the same cap.
func merge(st *domain.SourceState, u domain.StateUpdate, maxIDs int) {
	if u.KnownRecordIDs != nil {
		ids := dedupe(u.KnownRecordIDs)
		if maxIDs > 0 && len(ids) > maxIDs {
			ids = ids[len(ids)-maxIDs:]
		}
		st.KnownRecordIDs = ids
	}
	if u.LastValues != nil {
		if st.LastValues == nil {
			st.LastValues = make(map[string]float64, len(u.LastValues))
		}
		maps.Copy(st.LastValues, u.LastValues)
	}
	if u.LastTimestamps != nil {
		if st.LastTimestamps == nil {
			st.LastTimestamps = make(map[string]time.Time, len(u.LastTimestamps))
		}
		maps.Copy(st.LastTimestamps, u.LastTimestamps)
		pruneTimestamps(st.LastTimestamps, maxIDs)
	}
}

// pruneTimestamps drops the oldest entries until at most limit remain. Equal
// times are broken by key so the survivors are deterministic.
func pruneTimestamps(ts map[string]time.Time, limit int) {
	if limit <= 0 || len(ts) <= limit {
		return
	}
	keys := slices.Collect(maps.Keys(ts))
	slices.SortFunc(keys, func(a, b string) int {
		if c := ts[a].Compare(ts[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for _, k := range keys[:len(keys)-limit] {
		delete(ts, k)
	}
}

// dedupe keeps the last occurrence of each id so re-seen ids count as newest.
func dedupe(ids []string) []string {
	last := make(map[string]int, len(ids))
	for i, id := range ids {
		last[id] = i
	}
	out := make([]string, 0, len(last))
	for i, id := range ids {
		if last[id] == i {
			out = append(out, id)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
