// Package fixture replays a recorded change-event feed as a set of source
// adapters. Each record carries its age relative to the replay clock, so a
// fixture stays inside the rolling window no matter when it is replayed.
package fixture

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Record is one fixture entry. Detection time and event id are assigned at
// replay.
type Record struct {
	AgeMinutes int               `json:"ageMinutes"`
	Source     domain.Source     `json:"source"`
	ChangeType domain.ChangeType `json:"changeType,omitempty"`
	Severity   domain.Severity   `json:"severity"`
	Geography  domain.Geography  `json:"geography"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Metadata   domain.Metadata   `json:"metadata"`
}

// Event builds the change event the record replays as at now.
func (r Record) Event(now time.Time) domain.ChangeEvent {
	return domain.ChangeEvent{
		Source:       r.Source,
		DetectedAt:   now.Add(-time.Duration(r.AgeMinutes) * time.Minute),
		ChangeType:   r.ChangeType,
		SeverityHint: r.Severity,
		Geography:    r.Geography,
		Payload:      r.Payload,
		Metadata:     r.Metadata,
	}
}

// Feed is the decoded fixture document.
type Feed struct {
	Description string   `json:"description,omitempty"`
	Records     []Record `json:"records"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture document. Every record needs a known source and a
// source record id.
func Parse(data []byte) (*Feed, error) {
	var f Feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	for i, r := range f.Records {
		if !r.Source.Valid() {
			return nil, fmt.Errorf("record %d: unknown source %q", i, r.Source)
		}
		if r.Metadata.SourceRecordID == "" {
			return nil, fmt.Errorf("record %d: sourceRecordId is required", i)
		}
		if r.AgeMinutes < 0 {
			return nil, fmt.Errorf("record %d: ageMinutes must not be negative", i)
		}
	}
	return &f, nil
}

// Adapter replays the records of one source.
type Adapter struct {
	source  domain.Source
	records []Record
	clock   clockwork.Clock
}

// NewAdapters returns one adapter per requested source. Sources with no
// records still get an adapter so their health is tracked.
func NewAdapters(f *Feed, sources []domain.Source, clock clockwork.Clock) []*Adapter {
	out := make([]*Adapter, 0, len(sources))
	for _, src := range sources {
		a := &Adapter{source: src, clock: clock}
		for _, r := range f.Records {
			if r.Source == src {
				a.records = append(a.records, r)
			}
		}
		// Oldest first so detection times are non-decreasing.
		slices.SortStableFunc(a.records, func(x, y Record) int {
			return cmp.Compare(y.AgeMinutes, x.AgeMinutes)
		})
		out = append(out, a)
	}
	return out
}

func (a *Adapter) Source() domain.Source { return a.source }

// Poll emits the records not yet in the known-id set, stamped relative to now.
func (a *Adapter) Poll(ctx context.Context, state domain.SourceState) (domain.AdapterResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AdapterResult{}, err
	}
	now := a.clock.Now().UTC()
	known := append([]string(nil), state.KnownRecordIDs...)
	seen := make(map[string]bool, len(known))
	for _, id := range known {
		seen[id] = true
	}

	var events []domain.ChangeEvent
	timestamps := make(map[string]time.Time)
	for _, r := range a.records {
		id := r.Metadata.SourceRecordID
		if seen[id] {
			continue
		}
		seen[id] = true

		ev := r.Event(now)
		events = append(events, ev)
		known = append(known, id)
		timestamps[id] = ev.DetectedAt
	}

	return domain.AdapterResult{
		Events: events,
		State: domain.StateUpdate{
			KnownRecordIDs: known,
			LastTimestamps: timestamps,
		},
	}, nil
}
