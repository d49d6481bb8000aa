package pipeline

import (
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
)

// Snapshot is the immutable read view published at the end of each cycle.
// Readers must not modify it.
type Snapshot struct {
	Units    []domain.ScoredUnit
	Events   []domain.ChangeEvent
	Stats    domain.QueueStats
	Resolved []domain.ResolvedUnit
	Sources  []domain.SourceState
	ScoredAt time.Time
	Window   time.Duration

	adjacency *adjacency.Index
}

// Unit returns the scored unit with the given id.
func (s *Snapshot) Unit(unitID string) (domain.ScoredUnit, bool) {
	for _, u := range s.Units {
		if u.UnitID == unitID {
			return u, true
		}
	}
	return domain.ScoredUnit{}, false
}

// UnitsAtLeast returns the scored units at or above the given level, keeping
// score order.
func (s *Snapshot) UnitsAtLeast(level domain.Level) []domain.ScoredUnit {
	out := make([]domain.ScoredUnit, 0, len(s.Units))
	for _, u := range s.Units {
		if u.Level.Rank() >= level.Rank() {
			out = append(out, u)
		}
	}
	return out
}

// UnitEvents returns the events of a unit and its adjacent units that are
// still inside the decay window at now. The age filter is reapplied here so a
// snapshot that outlives its cycle never serves aged-out events.
func (s *Snapshot) UnitEvents(unitID string, now time.Time) []domain.ChangeEvent {
	want := map[string]bool{unitID: true}
	for _, n := range s.adjacency.Neighbors(unitID) {
		want[n] = true
	}
	out := make([]domain.ChangeEvent, 0)
	for _, ev := range s.Events {
		if !want[ev.Geography.UnitID] {
			continue
		}
		if s.Window > 0 && ev.Age(now) > s.Window {
			continue
		}
		out = append(out, ev)
	}
	return out
}
