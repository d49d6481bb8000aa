// Command genmock writes the change-event replay fixture used by the pipeline
// tests and by FIXTURE_PATH in local runs. Scenarios are placed on units from
// the embedded adjacency table so adjacent-scope patterns fire. After writing,
// the fixture is scored in memory with a fixed clock and the results are
// printed for updating test assertions.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/sentinel_feed.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/adapter/fixture"
	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/dedup"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/queue"
	"github.com/couchcryptid/watershed-sentinel/internal/scoring"
	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/jonboulle/clockwork"
)

var replayAt = time.Date(2026, time.March, 14, 6, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock/sentinel_feed.json", "output path for the replay fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	feed := fixture.Feed{
		Description: "Chesapeake headwaters replay: flood overflow, enforcement chain, adjacent contamination, statewide disaster, background noise",
		Records:     scenarios(),
	}

	idx, err := adjacency.Load("")
	if err != nil {
		return fmt.Errorf("load adjacency: %w", err)
	}
	for _, r := range feed.Records {
		if id := r.Geography.UnitID; id != "" {
			if _, ok := idx.Lookup(id); !ok {
				return fmt.Errorf("record %s: unit %s not in adjacency table", r.Metadata.SourceRecordID, id)
			}
		}
	}

	if err := writeJSON(*out, feed); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s (%d records)", *out, len(feed.Records))

	return printStats(&feed, idx)
}

func unit(id string) domain.Geography { return domain.Geography{UnitID: id} }

func record(age int, src domain.Source, sev domain.Severity, geo domain.Geography, id string, payload map[string]any) fixture.Record {
	return fixture.Record{
		AgeMinutes: age,
		Source:     src,
		Severity:   sev,
		Geography:  geo,
		Payload:    payload,
		Metadata:   domain.Metadata{SourceRecordID: id},
	}
}

func scenarios() []fixture.Record {
	return []fixture.Record{
		// Overflow three hours before heavy rain over the same unit.
		record(180, domain.SourceSSOCSO, domain.SeverityHigh, unit("02060003"), "sso-md-2026-0311",
			map[string]any{"facility": "Patapsco WWTP", "gallons": 1200000}),
		record(0, domain.SourceQPERainfall, domain.SeverityHigh, unit("02060003"), "qpe-02060003-2026031406",
			map[string]any{"inches24h": 3.4}),

		// Discharge violation followed by an enforcement action.
		record(1380, domain.SourceNPDESViolations, domain.SeverityHigh, unit("02070010"), "npdes-MD0021601-2026q1",
			map[string]any{"parameter": "E. coli", "exceedancePct": 340}),
		record(300, domain.SourceECHOEnforcement, domain.SeverityModerate, unit("02070010"), "echo-03-2026-0114",
			map[string]any{"action": "administrative order"}),

		// Contamination across neighboring units.
		record(600, domain.SourceSDWISViolations, domain.SeverityHigh, unit("02060005"), "sdwis-MD0100001-9921",
			map[string]any{"contaminant": "total coliform"}),
		record(420, domain.SourceNPDESViolations, domain.SeverityModerate, unit("02060004"), "npdes-MD0055182-2026q1",
			map[string]any{"parameter": "ammonia"}),

		// Statewide declaration with no unit.
		record(2400, domain.SourceFEMADisasters, domain.SeverityHigh, domain.Geography{State: "VA"}, "fema-DR-4801-VA",
			map[string]any{"incidentType": "Flood"}),

		// Background.
		record(60, domain.SourceNWSAlerts, domain.SeverityModerate, unit("02050306"), "nws-urn-oid-2.49.0.1.840.0.7731",
			map[string]any{"event": "Flood Watch"}),
		record(90, domain.SourceUSGSStreamflow, domain.SeverityLow, unit("02050304"), "usgs-01570500-00060",
			map[string]any{"cfs": 21400}),
		record(720, domain.SourceSNOTEL, domain.SeverityLow, unit("02070011"), "snotel-2229-va",
			map[string]any{"sweInches": 0.8}),
		record(2000, domain.SourceATTAINSImpairment, domain.SeverityLow, unit("02080101"), "attains-DE050-001-2026",
			nil),

		// No geography: admitted but never scored.
		record(30, domain.SourceECHOEnforcement, domain.SeverityLow, domain.Geography{}, "echo-unlocated-77", nil),
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// printStats replays the fixture through the queue and scorer at replayAt.
func printStats(feed *fixture.Feed, idx *adjacency.Index) error {
	tuning, err := config.DefaultTuning()
	if err != nil {
		return err
	}
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(replayAt)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	st := store.NewMemory()

	q := queue.New(st, dedup.New(tuning.Dedup), tuning.Decay.Window, clock, logger, metrics)
	scorer := scoring.NewScorer(tuning, idx, st, clock, logger, metrics)

	var admitted, suppressed int
	for _, a := range fixture.NewAdapters(feed, domain.AllSources, clock) {
		res, err := a.Poll(ctx, domain.SourceState{Source: a.Source()})
		if err != nil {
			return fmt.Errorf("poll %s: %w", a.Source(), err)
		}
		events, _ := domain.NormalizeBatch(a.Source(), res.Events, clock.Now())
		r := q.Enqueue(ctx, events)
		admitted += r.Admitted
		suppressed += r.Suppressed
	}

	result := scorer.Score(ctx, q)
	stats := q.Stats()

	fmt.Println("\n=== Fixture Stats (for updating test assertions) ===")
	fmt.Printf("Admitted: %d  Suppressed: %d  Unindexed: %d\n", admitted, suppressed, stats.Unindexed)
	fmt.Printf("Last hour: %d  Last 6h: %d  Last 24h: %d\n", stats.LastHour, stats.Last6Hours, stats.Last24Hours)
	fmt.Printf("Active units: %d\n", len(result.Units))
	fmt.Println("\nScored units:")
	for _, u := range result.Units {
		fmt.Printf("  %s  %-9s %10.6f  x%.2f  bonus=%-5t  patterns=%v\n",
			u.UnitID, u.Level, u.Score, u.Multiplier, u.AdjacencyBonus, u.PatternIDs())
	}
	fmt.Printf("\nAlerts: %d\n", len(result.Alerts))
	return nil
}
