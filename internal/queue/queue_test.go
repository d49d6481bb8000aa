package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/dedup"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unitA = "02060003"
	unitB = "02060004"
)

var t0 = time.Date(2026, time.March, 14, 6, 0, 0, 0, time.UTC)

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) ([]byte, error) { return nil, errors.New("unavailable") }
func (brokenStore) Save(context.Context, string, []byte) error   { return errors.New("unavailable") }

func newTestQueue(t *testing.T, st store.Store) (*Queue, *clockwork.FakeClock, *observability.Metrics) {
	t.Helper()
	tuning, err := config.DefaultTuning()
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(t0)
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, dedup.New(tuning.Dedup), 48*time.Hour, clock, logger, metrics), clock, metrics
}

func ev(id string, src domain.Source, unit string, sev domain.Severity, at time.Time) domain.ChangeEvent {
	return domain.ChangeEvent{
		EventID:      id,
		Source:       src,
		DetectedAt:   at,
		ChangeType:   domain.ChangeNewRecord,
		SeverityHint: sev,
		Geography:    domain.Geography{UnitID: unit, BasinID: domain.BasinOf(unit), State: "MD"},
		Payload:      map[string]any{"id": id},
		Metadata:     domain.Metadata{SourceRecordID: "rec-" + id},
	}
}

func testAdjacency(t *testing.T) *adjacency.Index {
	t.Helper()
	idx, err := adjacency.Parse(strings.NewReader(
		"unit_id,basin_id,state,adjacent\n" +
			"02060003,020600,MD,02060004\n" +
			"02060004,020600,MD,02060003\n"))
	require.NoError(t, err)
	return idx
}

func TestEnqueue_AdmitsAndIndexes(t *testing.T) {
	q, _, metrics := newTestQueue(t, store.NewMemory())

	res := q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("a", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0.Add(-2*time.Hour)),
		ev("b", domain.SourceQPERainfall, unitA, domain.SeverityHigh, t0.Add(-time.Hour)),
		ev("c", domain.SourceNPDESViolations, unitB, domain.SeverityModerate, t0),
	})

	assert.Equal(t, 3, res.Admitted)
	assert.Zero(t, res.Suppressed)
	assert.Equal(t, []string{unitA, unitB}, q.ActiveUnits())

	got := q.EventsForUnit(unitA)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EventID, "oldest first")
	assert.Equal(t, "b", got[1].EventID)

	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.QueueEvents), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.EventsAdmitted.WithLabelValues("SSO_CSO")), 1e-9)
}

func TestEnqueue_IdenticalEventTwiceQueuesOnce(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	e := ev("a", domain.SourceUSGSStreamflow, unitA, domain.SeverityHigh, t0)

	first := q.Enqueue(context.Background(), []domain.ChangeEvent{e})
	second := q.Enqueue(context.Background(), []domain.ChangeEvent{e})

	assert.Equal(t, 1, first.Admitted)
	assert.Equal(t, 0, second.Admitted)
	assert.Equal(t, 1, second.Suppressed)
	assert.Equal(t, 1, q.Len())
}

func TestEnqueue_DedupsWithinBatch(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	e := ev("a", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0)

	res := q.Enqueue(context.Background(), []domain.ChangeEvent{e, e})

	assert.Equal(t, 1, res.Admitted)
	assert.Equal(t, 1, res.Suppressed)
}

func TestEnqueue_SeverityUpgradeInPlace(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())

	moderate := ev("m", domain.SourceSSOCSO, unitA, domain.SeverityModerate, t0.Add(-2*time.Hour))
	critical := ev("c", domain.SourceSSOCSO, unitA, domain.SeverityCritical, t0)
	critical.Payload = map[string]any{"gallons": 120000.0}

	q.Enqueue(context.Background(), []domain.ChangeEvent{moderate})
	res := q.Enqueue(context.Background(), []domain.ChangeEvent{critical})

	assert.Equal(t, 1, res.Suppressed)
	assert.Equal(t, 1, res.Upgraded)

	got := q.EventsForUnit(unitA)
	require.Len(t, got, 1)
	assert.Equal(t, "m", got[0].EventID)
	assert.Equal(t, domain.SeverityCritical, got[0].SeverityHint)
	assert.Equal(t, map[string]any{"gallons": 120000.0}, got[0].Payload)
}

func TestPurge_AgedEventsNeverObservable(t *testing.T) {
	q, clock, _ := newTestQueue(t, store.NewMemory())

	q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("old", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0.Add(-47*time.Hour)),
		ev("new", domain.SourceQPERainfall, unitB, domain.SeverityHigh, t0),
	})
	require.Equal(t, 2, q.Len())

	// No enqueue runs in between; reads alone must drop the aged event.
	clock.Advance(2 * time.Hour)

	for _, e := range q.AllEvents() {
		assert.NotEqual(t, "old", e.EventID)
	}
	assert.Empty(t, q.EventsForUnit(unitA))
	assert.Equal(t, []string{unitB}, q.ActiveUnits())
	assert.Equal(t, 1, q.Stats().Total)
}

func TestEnqueue_AlreadyExpiredEventIsDropped(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	res := q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("ancient", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0.Add(-72*time.Hour)),
	})
	assert.Zero(t, res.Admitted)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_MalformedAdmittedButUnindexed(t *testing.T) {
	q, _, metrics := newTestQueue(t, store.NewMemory())
	bad := ev("x", domain.SourceECHOEnforcement, "", domain.SeverityLow, t0)
	bad.Geography = domain.Geography{}

	res := q.Enqueue(context.Background(), []domain.ChangeEvent{bad})

	assert.Equal(t, 1, res.Admitted)
	assert.Equal(t, 1, res.Unindexed)
	assert.Empty(t, q.ActiveUnits())
	assert.Len(t, q.AllEvents(), 1)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Unindexed)
	assert.Equal(t, 1, stats.BySource[domain.SourceECHOEnforcement])
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.MalformedEvents), 1e-9)
}

func TestEventsForState(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	decl := ev("fema", domain.SourceFEMADisasters, "", domain.SeverityHigh, t0)
	decl.Geography = domain.Geography{State: "MD"}

	q.Enqueue(context.Background(), []domain.ChangeEvent{decl})

	assert.Empty(t, q.ActiveUnits())
	got := q.EventsForState("MD")
	require.Len(t, got, 1)
	assert.Equal(t, "fema", got[0].EventID)
}

func TestEventsForUnitAndAdjacent(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	idx := testAdjacency(t)

	q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("a", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0.Add(-time.Hour)),
		ev("b", domain.SourceNPDESViolations, unitB, domain.SeverityHigh, t0.Add(-2*time.Hour)),
		ev("far", domain.SourceNPDESViolations, "05010001", domain.SeverityHigh, t0),
	})

	got := q.EventsForUnitAndAdjacent(unitA, idx)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].EventID)
	assert.Equal(t, "a", got[1].EventID)

	assert.Len(t, q.EventsForUnitAndAdjacent("05010001", idx), 1, "units missing from the table see only their own events")
}

func TestStats_Windows(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("a", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0.Add(-30*time.Hour)),
		ev("b", domain.SourceSSOCSO, unitB, domain.SeverityHigh, t0.Add(-12*time.Hour)),
		ev("c", domain.SourceQPERainfall, unitA, domain.SeverityHigh, t0.Add(-3*time.Hour)),
		ev("d", domain.SourceUSGSStreamflow, unitA, domain.SeverityHigh, t0.Add(-10*time.Minute)),
	})

	st := q.Stats()
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.LastHour)
	assert.Equal(t, 2, st.Last6Hours)
	assert.Equal(t, 3, st.Last24Hours)
	assert.Equal(t, 2, st.BySource[domain.SourceSSOCSO])
	assert.Equal(t, 2, st.ActiveUnits)
	require.NotNil(t, st.Oldest)
	require.NotNil(t, st.Newest)
	assert.Equal(t, t0.Add(-30*time.Hour), *st.Oldest)
	assert.Equal(t, t0.Add(-10*time.Minute), *st.Newest)
}

func TestWarm_RestoresPersistedWindow(t *testing.T) {
	st := store.NewMemory()
	q, _, _ := newTestQueue(t, st)
	q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("a", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0.Add(-time.Hour)),
		ev("b", domain.SourceQPERainfall, unitB, domain.SeverityHigh, t0),
	})

	restarted, clock, _ := newTestQueue(t, st)
	clock.Advance(47*time.Hour + 30*time.Minute)
	require.NoError(t, restarted.Warm(context.Background()))

	got := restarted.AllEvents()
	require.Len(t, got, 1, "events aged out while the process was down are purged on warm")
	assert.Equal(t, "b", got[0].EventID)
}

func TestWarm_EmptyStore(t *testing.T) {
	q, _, _ := newTestQueue(t, store.NewMemory())
	require.NoError(t, q.Warm(context.Background()))
	assert.Zero(t, q.Len())
}

func TestEnqueue_PersistFailureIsNonFatal(t *testing.T) {
	q, _, _ := newTestQueue(t, brokenStore{})
	res := q.Enqueue(context.Background(), []domain.ChangeEvent{
		ev("a", domain.SourceSSOCSO, unitA, domain.SeverityHigh, t0),
	})
	assert.Equal(t, 1, res.Admitted)
	assert.Equal(t, 1, q.Len(), "the in-memory window stays authoritative")

	require.Error(t, q.Warm(context.Background()))
	assert.Equal(t, 1, q.Len())
}
