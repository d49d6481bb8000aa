package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	err   error
	loads int
	saves int
}

func (f *failingStore) Load(context.Context, string) ([]byte, error) {
	f.loads++
	return nil, f.err
}

func (f *failingStore) Save(context.Context, string, []byte) error {
	f.saves++
	return f.err
}

// blockingStore waits for the context to expire, simulating a hung remote.
type blockingStore struct{}

func (blockingStore) Load(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Save(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTiered_LoadPrefersLocal(t *testing.T) {
	ctx := context.Background()
	local, remote := NewMemory(), NewMemory()
	require.NoError(t, local.Save(ctx, KeyQueue, []byte(`{"tier":"local"}`)))
	require.NoError(t, remote.Save(ctx, KeyQueue, []byte(`{"tier":"remote"}`)))

	s := NewTiered(local, remote, time.Second, discardLogger(), observability.NewMetricsForTesting())
	data, err := s.Load(ctx, KeyQueue)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"local"}`, string(data))
}

func TestTiered_ColdStartWarmsLocalFromRemote(t *testing.T) {
	ctx := context.Background()
	local, remote := NewMemory(), NewMemory()
	require.NoError(t, remote.Save(ctx, KeyScored, []byte(`{"units":[]}`)))

	s := NewTiered(local, remote, time.Second, discardLogger(), observability.NewMetricsForTesting())
	data, err := s.Load(ctx, KeyScored)
	require.NoError(t, err)
	assert.JSONEq(t, `{"units":[]}`, string(data))

	warmed, err := local.Load(ctx, KeyScored)
	require.NoError(t, err)
	assert.JSONEq(t, `{"units":[]}`, string(warmed))
}

func TestTiered_NotFound(t *testing.T) {
	s := NewTiered(NewMemory(), NewMemory(), time.Second, discardLogger(), observability.NewMetricsForTesting())
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := LoadJSON(context.Background(), s, "missing", &struct{}{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTiered_SaveMirrorsBothTiers(t *testing.T) {
	ctx := context.Background()
	local, remote := NewMemory(), NewMemory()
	s := NewTiered(local, remote, time.Second, discardLogger(), observability.NewMetricsForTesting())

	require.NoError(t, SaveJSON(ctx, s, KeySources, map[string]int{"n": 1}))

	for _, tier := range []*Memory{local, remote} {
		data, err := tier.Load(ctx, KeySources)
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(data))
	}
}

func TestTiered_PartialFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetricsForTesting()
	remote := &failingStore{err: errors.New("bucket unavailable")}
	local := NewMemory()
	s := NewTiered(local, remote, time.Second, discardLogger(), metrics)

	require.NoError(t, s.Save(ctx, KeyQueue, []byte(`[]`)))
	assert.Equal(t, 1, remote.saves)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.PersistErrors.WithLabelValues("remote", "save")), 1e-9)

	data, err := s.Load(ctx, KeyQueue)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestTiered_TotalFailureReturnsError(t *testing.T) {
	s := NewTiered(
		&failingStore{err: errors.New("disk full")},
		&failingStore{err: errors.New("bucket unavailable")},
		time.Second, discardLogger(), observability.NewMetricsForTesting(),
	)
	err := s.Save(context.Background(), KeyQueue, []byte(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestTiered_TimeoutBoundsHungTier(t *testing.T) {
	s := NewTiered(NewMemory(), blockingStore{}, 20*time.Millisecond, discardLogger(), observability.NewMetricsForTesting())

	start := time.Now()
	_, err := s.Load(context.Background(), KeyQueue)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, s.Save(context.Background(), KeyQueue, []byte(`[]`)), "local tier still accepts the write")
}

func TestTiered_LocalOnly(t *testing.T) {
	s := NewTiered(NewMemory(), nil, 0, discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, s.Save(context.Background(), KeyLease, []byte(`{}`)))
	_, err := s.Load(context.Background(), KeyLease)
	require.NoError(t, err)
}

func TestTiered_DurableSkipsLocalCache(t *testing.T) {
	ctx := context.Background()
	shared := NewMemory()
	metrics := observability.NewMetricsForTesting()
	a := NewTiered(NewMemory(), shared, time.Second, discardLogger(), metrics)
	b := NewTiered(NewMemory(), shared, time.Second, discardLogger(), metrics)

	require.NoError(t, a.Save(ctx, KeyLease, []byte(`{"holderId":"a"}`)))
	require.NoError(t, b.Durable().Save(ctx, KeyLease, []byte(`{}`)))

	cached, err := a.Load(ctx, KeyLease)
	require.NoError(t, err)
	assert.JSONEq(t, `{"holderId":"a"}`, string(cached), "the tiered view still serves its local copy")

	durable, err := a.Durable().Load(ctx, KeyLease)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(durable))
}

func TestTiered_DurableFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	local := NewMemory()
	s := NewTiered(local, nil, 0, discardLogger(), observability.NewMetricsForTesting())

	require.NoError(t, s.Durable().Save(ctx, KeyLease, []byte(`{}`)))
	data, err := local.Load(ctx, KeyLease)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestTiered_DurableReportsRemoteFailure(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	s := NewTiered(NewMemory(), &failingStore{err: errors.New("bucket unavailable")}, time.Second, discardLogger(), metrics)

	err := s.Durable().Save(context.Background(), KeyLease, []byte(`{}`))
	require.Error(t, err, "the local tier never stands in for the shared one")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.PersistErrors.WithLabelValues("remote", "save")), 1e-9)
}
