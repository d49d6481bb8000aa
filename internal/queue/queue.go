// Package queue holds the rolling window of admitted change events.
//
// The queue is owned by a single cycle at a time and is not safe for
// concurrent use. Every read and every enqueue first purges events older than
// the decay window, so an aged-out event is never observable even if the
// queue was loaded from a stale snapshot.
package queue

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/dedup"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/jonboulle/clockwork"
)

// Queue is the rolling event window with a unit -> event spatial index.
type Queue struct {
	store   store.Store
	dedup   *dedup.Engine
	window  time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	events    []*domain.ChangeEvent
	byUnit    map[string][]*domain.ChangeEvent
	byState   map[string][]*domain.ChangeEvent // events with a state but no unit
	unindexed int
}

// EnqueueResult summarizes one Enqueue call.
type EnqueueResult struct {
	Admitted   int
	Suppressed int
	Upgraded   int
	Unindexed  int
	Purged     int
}

// snapshot is the persisted form of the queue.
type snapshot struct {
	SavedAt time.Time            `json:"savedAt"`
	Window  string               `json:"window"`
	Events  []domain.ChangeEvent `json:"events"`
}

// New creates an empty queue. Call Warm to load the persisted window.
func New(st store.Store, engine *dedup.Engine, window time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	q := &Queue{
		store:   st,
		dedup:   engine,
		window:  window,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
	q.reindex()
	return q
}

// Warm replaces the in-memory window with the persisted one. A missing
// snapshot leaves the queue empty. Load errors are returned for the caller to
// log; the queue stays usable either way.
func (q *Queue) Warm(ctx context.Context) error {
	var snap snapshot
	found, err := store.LoadJSON(ctx, q.store, store.KeyQueue, &snap)
	if err != nil || !found {
		return err
	}

	q.events = make([]*domain.ChangeEvent, 0, len(snap.Events))
	for i := range snap.Events {
		ev := snap.Events[i]
		q.events = append(q.events, &ev)
	}
	purged := q.purge()
	q.reindex()
	q.metrics.QueueEvents.Set(float64(len(q.events)))
	q.logger.Info("queue warmed", "events", len(q.events), "purged", purged, "saved_at", snap.SavedAt)
	return nil
}

// Enqueue purges aged-out events, runs each incoming event through dedup
// against the queue (including events admitted earlier in the same batch),
// appends the admitted ones, rebuilds the spatial index, and persists the
// window. Persistence failures are logged and do not fail the call.
func (q *Queue) Enqueue(ctx context.Context, batch []domain.ChangeEvent) EnqueueResult {
	res := EnqueueResult{Purged: q.purge()}
	cutoff := q.cutoff()

	for i := range batch {
		ev := batch[i]
		if ev.DetectedAt.Before(cutoff) {
			// Already outside the window; admitting it would only purge it again.
			res.Suppressed++
			q.metrics.EventsSuppressed.WithLabelValues(string(ev.Source), "expired").Inc()
			continue
		}

		d := q.dedup.Evaluate(ev, q.events)
		res.Upgraded += d.Upgraded
		if d.Suppress {
			res.Suppressed++
			q.metrics.EventsSuppressed.WithLabelValues(string(ev.Source), d.Rule).Inc()
			q.logger.Debug("event suppressed",
				"event_id", ev.EventID,
				"source", ev.Source,
				"rule", d.Rule,
				"matched_event_id", d.MatchedEventID,
			)
			continue
		}

		q.events = append(q.events, &ev)
		res.Admitted++
		q.metrics.EventsAdmitted.WithLabelValues(string(ev.Source)).Inc()
		if !ev.Geography.Usable() {
			res.Unindexed++
			q.metrics.MalformedEvents.Inc()
			q.logger.Warn("event has no usable geography; admitted without spatial index",
				"event_id", ev.EventID, "source", ev.Source)
		}
	}

	q.reindex()
	q.metrics.QueueEvents.Set(float64(len(q.events)))
	q.persist(ctx)
	return res
}

// Persist writes the current window. Failures are logged.
func (q *Queue) Persist(ctx context.Context) {
	q.purge()
	q.reindex()
	q.persist(ctx)
}

func (q *Queue) persist(ctx context.Context) {
	snap := snapshot{
		SavedAt: q.clock.Now().UTC(),
		Window:  q.window.String(),
		Events:  make([]domain.ChangeEvent, 0, len(q.events)),
	}
	for _, ev := range q.events {
		snap.Events = append(snap.Events, *ev)
	}
	if err := store.SaveJSON(ctx, q.store, store.KeyQueue, snap); err != nil {
		q.logger.Warn("queue persist failed; continuing in memory", "events", len(snap.Events), "error", err)
	}
}

// EventsForUnit returns the live events indexed under a unit, oldest first.
func (q *Queue) EventsForUnit(unitID string) []domain.ChangeEvent {
	q.refresh()
	return copyEvents(q.byUnit[unitID])
}

// EventsForUnitAndAdjacent returns the live events of a unit and every
// adjacent unit known to idx, oldest first. A unit missing from idx yields
// only its own events.
func (q *Queue) EventsForUnitAndAdjacent(unitID string, idx *adjacency.Index) []domain.ChangeEvent {
	q.refresh()
	var out []*domain.ChangeEvent
	out = append(out, q.byUnit[unitID]...)
	for _, n := range idx.Neighbors(unitID) {
		out = append(out, q.byUnit[n]...)
	}
	sortByDetected(out)
	return copyEvents(out)
}

// EventsForState returns the live events that carry a state but no unit.
func (q *Queue) EventsForState(state string) []domain.ChangeEvent {
	q.refresh()
	return copyEvents(q.byState[state])
}

// AllEvents returns every live event, oldest first, including events
// without usable geography.
func (q *Queue) AllEvents() []domain.ChangeEvent {
	q.refresh()
	return copyEvents(q.events)
}

// ActiveUnits returns the sorted ids of units with at least one live event.
func (q *Queue) ActiveUnits() []string {
	q.refresh()
	units := make([]string, 0, len(q.byUnit))
	for u := range q.byUnit {
		units = append(units, u)
	}
	sort.Strings(units)
	return units
}

// Len returns the number of live events.
func (q *Queue) Len() int {
	q.refresh()
	return len(q.events)
}

// Stats derives the queue statistics from the live window.
func (q *Queue) Stats() domain.QueueStats {
	q.refresh()
	now := q.clock.Now()
	st := domain.QueueStats{
		Total:       len(q.events),
		BySource:    make(map[domain.Source]int),
		ActiveUnits: len(q.byUnit),
		Unindexed:   q.unindexed,
	}
	for _, ev := range q.events {
		age := ev.Age(now)
		if age <= time.Hour {
			st.LastHour++
		}
		if age <= 6*time.Hour {
			st.Last6Hours++
		}
		if age <= 24*time.Hour {
			st.Last24Hours++
		}
		st.BySource[ev.Source]++

		t := ev.DetectedAt
		if st.Oldest == nil || t.Before(*st.Oldest) {
			st.Oldest = &t
		}
		if st.Newest == nil || t.After(*st.Newest) {
			st.Newest = &t
		}
	}
	return st
}

// refresh applies the read-time purge and rebuilds the index when anything
// aged out.
func (q *Queue) refresh() {
	if q.purge() > 0 {
		q.reindex()
		q.metrics.QueueEvents.Set(float64(len(q.events)))
	}
}

func (q *Queue) cutoff() time.Time {
	return q.clock.Now().Add(-q.window)
}

// purge drops events detected before the window cutoff and reports how many
// were removed.
func (q *Queue) purge() int {
	cutoff := q.cutoff()
	before := len(q.events)
	q.events = slices.DeleteFunc(q.events, func(ev *domain.ChangeEvent) bool {
		return ev.DetectedAt.Before(cutoff)
	})
	return before - len(q.events)
}

func (q *Queue) reindex() {
	q.byUnit = make(map[string][]*domain.ChangeEvent)
	q.byState = make(map[string][]*domain.ChangeEvent)
	q.unindexed = 0
	sortByDetected(q.events)
	for _, ev := range q.events {
		switch g := ev.Geography; {
		case g.UnitID != "":
			q.byUnit[g.UnitID] = append(q.byUnit[g.UnitID], ev)
		case g.State != "":
			q.byState[g.State] = append(q.byState[g.State], ev)
		default:
			q.unindexed++
		}
	}
}

func sortByDetected(events []*domain.ChangeEvent) {
	slices.SortStableFunc(events, func(a, b *domain.ChangeEvent) int {
		return a.DetectedAt.Compare(b.DetectedAt)
	})
}

func copyEvents(events []*domain.ChangeEvent) []domain.ChangeEvent {
	out := make([]domain.ChangeEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, *ev)
	}
	return out
}
