//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_ReverseGeocode_Baltimore(t *testing.T) {
	result, err := smokeClient(t).ReverseGeocode(context.Background(), 39.2904, -76.6122)
	require.NoError(t, err)

	assert.Equal(t, "MD", result.State)
	assert.Equal(t, "Maryland", result.PlaceName)
}

func TestSmoke_ReverseGeocode_Offshore(t *testing.T) {
	// Mid-Atlantic, well outside any state.
	result, err := smokeClient(t).ReverseGeocode(context.Background(), 36.0, -65.0)
	require.NoError(t, err)
	assert.Empty(t, result.State)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	cached := NewCachedGeocoder(smokeClient(t), 10, observability.NewMetricsForTesting())

	r1, err := cached.ReverseGeocode(context.Background(), 38.8048, -77.0469)
	require.NoError(t, err)
	assert.Equal(t, "VA", r1.State)

	r2, err := cached.ReverseGeocode(context.Background(), 38.8048, -77.0469)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
