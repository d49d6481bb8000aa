package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache", "sentinel.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestStore_SaveLoad(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, store.KeyQueue, []byte(`[{"eventId":"a"}]`)))
	got, err := s.Load(ctx, store.KeyQueue)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"eventId":"a"}]`, string(got))

	require.NoError(t, s.Save(ctx, store.KeyQueue, []byte(`[]`)))
	got, err = s.Load(ctx, store.KeyQueue)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got), "last writer wins")
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := openTemp(t)
	_, err := s.Load(context.Background(), store.KeyScored)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Save(context.Background(), store.KeySources, []byte(`{}`)))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(context.Background(), store.KeySources)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestStore_CanceledContext(t *testing.T) {
	s, _ := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Save(ctx, store.KeyLease, []byte(`{}`)), context.Canceled)
	_, err := s.Load(ctx, store.KeyLease)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStore_ClosedIsSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}
