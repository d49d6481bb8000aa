package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuning(t *testing.T) {
	tun, err := DefaultTuning()
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, tun.Decay.Window)
	assert.InDelta(t, 0.1, tun.Decay.Floor, 1e-9)
	assert.Equal(t, time.Hour, tun.Dedup.SameRecordWindow)
	assert.Equal(t, 4*time.Hour, tun.Dedup.BurstWindow)
	assert.Equal(t, 24*time.Hour, tun.Dedup.RegulatoryCooldown)
	assert.Equal(t, []domain.Source{domain.SourceNWSAlerts}, tun.Dedup.AlertUpdateSources)
	assert.Equal(t, []domain.Source{domain.SourceATTAINSImpairment}, tun.Dedup.CooldownSources)
	assert.Equal(t, 7*24*time.Hour, tun.ResolvedTTL)
	assert.InDelta(t, 1.25, tun.AdjacencyBonus, 1e-9)

	assert.InDelta(t, 50.0, tun.BaseScore(domain.SourceSSOCSO, domain.SeverityHigh), 1e-9)
	assert.InDelta(t, 30.0, tun.BaseScore(domain.SourceQPERainfall, domain.SeverityHigh), 1e-9)
	for _, src := range domain.AllSources {
		assert.Contains(t, tun.BaseScores, src, "every source needs a base score row")
	}

	require.NotEmpty(t, tun.Patterns)
	assert.Equal(t, "flood_overflow", tun.Patterns[0].ID)
	assert.Equal(t, 12*time.Hour, tun.Patterns[0].Window)
	assert.Equal(t, ScopeSameUnit, tun.Patterns[0].Scope)
}

func TestThresholds_Classify(t *testing.T) {
	th := Thresholds{Advisory: 25, Watch: 60, Critical: 120}

	tests := []struct {
		score float64
		want  domain.Level
	}{
		{0, domain.LevelNominal},
		{24.99, domain.LevelNominal},
		{25, domain.LevelAdvisory},
		{59.9, domain.LevelAdvisory},
		{60, domain.LevelWatch},
		{119.9, domain.LevelWatch},
		{120, domain.LevelCritical},
		{1000, domain.LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.score), "score %v", tt.score)
	}
}

func TestPollingConfig_Interval(t *testing.T) {
	p := PollingConfig{
		BaseInterval: 5 * time.Minute,
		Multiples:    map[domain.Source]int{domain.SourceSSOCSO: 3},
	}
	assert.Equal(t, 15*time.Minute, p.Interval(domain.SourceSSOCSO))
	assert.Equal(t, 5*time.Minute, p.Interval(domain.SourceQPERainfall))
}

func TestParseTuning_ReportsAllProblems(t *testing.T) {
	doc := []byte(`
base_scores:
  TIDE_GAUGE: { HIGH: 10 }
decay: { window: 0s, floor: 1.5 }
dedup: { same_record_window: 1h, burst_window: 4h, regulatory_cooldown: 24h }
patterns:
  - id: p1
    window: 1h
    scope: everywhere
    multiplier: 0.5
adjacency_bonus: 1.1
thresholds: { advisory: 50, watch: 40, critical: 120 }
resolved_ttl: 168h
polling: { base_interval: 5m, max_interval: 24h, offline_after: 4 }
`)
	_, err := ParseTuning(doc)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "TIDE_GAUGE")
	assert.Contains(t, msg, "decay.window")
	assert.Contains(t, msg, "decay.floor")
	assert.Contains(t, msg, "patterns.p1: scope")
	assert.Contains(t, msg, "patterns.p1: multiplier")
	assert.Contains(t, msg, "patterns.p1: at least one source group")
	assert.Contains(t, msg, "thresholds")
}

func TestLoadTuning_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, defaultTuning, 0o600))

	tun, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Len(t, tun.Patterns, 5)

	_, err = LoadTuning(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
