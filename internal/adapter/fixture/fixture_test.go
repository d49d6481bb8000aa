package fixture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.March, 14, 6, 0, 0, 0, time.UTC)

const testFeed = `{
  "records": [
    {"ageMinutes": 30,  "source": "SSO_CSO", "severity": "HIGH", "geography": {"unitId": "02060003"}, "metadata": {"sourceRecordId": "sso-2"}},
    {"ageMinutes": 180, "source": "SSO_CSO", "severity": "MODERATE", "geography": {"unitId": "02060003"}, "metadata": {"sourceRecordId": "sso-1"}},
    {"ageMinutes": 0,   "source": "QPE_RAINFALL", "severity": "HIGH", "geography": {"unitId": "02060003"}, "metadata": {"sourceRecordId": "qpe-1"}}
  ]
}`

func TestParse_Validates(t *testing.T) {
	_, err := Parse([]byte(`{"records":[{"source":"NOPE","metadata":{"sourceRecordId":"x"}}]}`))
	require.Error(t, err)
	_, err = Parse([]byte(`{"records":[{"source":"SSO_CSO"}]}`))
	require.Error(t, err)
	_, err = Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestAdapter_ReplaysOldestFirst(t *testing.T) {
	feed, err := Parse([]byte(testFeed))
	require.NoError(t, err)
	adapters := NewAdapters(feed, []domain.Source{domain.SourceSSOCSO, domain.SourceNWSAlerts}, clockwork.NewFakeClockAt(t0))
	require.Len(t, adapters, 2)

	res, err := adapters[0].Poll(context.Background(), domain.SourceState{Source: domain.SourceSSOCSO})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "sso-1", res.Events[0].Metadata.SourceRecordID)
	assert.Equal(t, domain.SeverityModerate, res.Events[0].SeverityHint)
	assert.Equal(t, t0.Add(-3*time.Hour), res.Events[0].DetectedAt)
	assert.Equal(t, t0.Add(-30*time.Minute), res.Events[1].DetectedAt)
	assert.Equal(t, []string{"sso-1", "sso-2"}, res.State.KnownRecordIDs)

	empty, err := adapters[1].Poll(context.Background(), domain.SourceState{Source: domain.SourceNWSAlerts})
	require.NoError(t, err)
	assert.Empty(t, empty.Events)
}

func TestAdapter_SkipsKnownRecords(t *testing.T) {
	feed, err := Parse([]byte(testFeed))
	require.NoError(t, err)
	a := NewAdapters(feed, []domain.Source{domain.SourceSSOCSO}, clockwork.NewFakeClockAt(t0))[0]

	res, err := a.Poll(context.Background(), domain.SourceState{KnownRecordIDs: []string{"sso-1"}})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "sso-2", res.Events[0].Metadata.SourceRecordID)
	assert.Equal(t, []string{"sso-1", "sso-2"}, res.State.KnownRecordIDs)
}

func TestAdapter_CanceledContext(t *testing.T) {
	feed, err := Parse([]byte(testFeed))
	require.NoError(t, err)
	a := NewAdapters(feed, []domain.Source{domain.SourceSSOCSO}, clockwork.NewFakeClockAt(t0))[0]

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Poll(ctx, domain.SourceState{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(testFeed), 0o600))

	feed, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, feed.Records, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
