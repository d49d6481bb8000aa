// Package scoring turns the rolling event window into per-unit risk scores.
//
// Each cycle fully regenerates the scored output: per-event linear decay,
// compound-pattern multipliers (highest match wins), a flat adjacency bonus
// when a same-basin neighbor is active, and threshold classification. The
// scorer also diffs consecutive outputs to record units that stood down from
// WATCH or CRITICAL.
package scoring

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/jonboulle/clockwork"
)

// EventSource is the read-only view of the rolling queue the scorer needs.
type EventSource interface {
	ActiveUnits() []string
	EventsForUnit(unitID string) []domain.ChangeEvent
	EventsForUnitAndAdjacent(unitID string, idx *adjacency.Index) []domain.ChangeEvent
	EventsForState(state string) []domain.ChangeEvent
}

// Result is the output of one scoring cycle.
type Result struct {
	Units       []domain.ScoredUnit
	NewResolved []domain.ResolvedUnit // units that stood down this cycle
	Resolved    []domain.ResolvedUnit // every unexpired resolved record, newest first
	Alerts      []domain.Alert
	ScoredAt    time.Time
}

// peak is the highest point an elevated unit reached before it resolves.
type peak struct {
	Score    float64      `json:"score"`
	Level    domain.Level `json:"level"`
	Patterns []string     `json:"patterns,omitempty"`
	At       time.Time    `json:"at"`
}

// persisted is the stored form of the scored output.
type persisted struct {
	ScoredAt time.Time             `json:"scoredAt"`
	Units    []domain.ScoredUnit   `json:"units"`
	Resolved []domain.ResolvedUnit `json:"resolved"`
	Peaks    map[string]peak       `json:"peaks,omitempty"`
}

// Scorer owns the scored output and resolved-unit lifetime.
type Scorer struct {
	tuning  *config.Tuning
	idx     *adjacency.Index
	store   store.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	previous map[string]domain.ScoredUnit
	resolved []domain.ResolvedUnit
	peaks    map[string]peak
}

// NewScorer creates a scorer with no prior output. Call Warm to restore the
// previous cycle after a restart.
func NewScorer(tuning *config.Tuning, idx *adjacency.Index, st store.Store, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scorer {
	return &Scorer{
		tuning:   tuning,
		idx:      idx,
		store:    st,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		previous: make(map[string]domain.ScoredUnit),
		peaks:    make(map[string]peak),
	}
}

// Warm restores the previous output, resolved records, and peaks.
func (s *Scorer) Warm(ctx context.Context) ([]domain.ScoredUnit, error) {
	var p persisted
	found, err := store.LoadJSON(ctx, s.store, store.KeyScored, &p)
	if err != nil || !found {
		return nil, err
	}
	s.previous = make(map[string]domain.ScoredUnit, len(p.Units))
	for _, u := range p.Units {
		s.previous[u.UnitID] = u
	}
	s.resolved = p.Resolved
	s.peaks = p.Peaks
	if s.peaks == nil {
		s.peaks = make(map[string]peak)
	}
	s.pruneResolved(s.clock.Now())
	s.logger.Info("scored output warmed", "units", len(p.Units), "resolved", len(s.resolved), "scored_at", p.ScoredAt)
	return p.Units, nil
}

// Resolved returns the unexpired resolved records, newest first.
func (s *Scorer) Resolved() []domain.ResolvedUnit {
	s.pruneResolved(s.clock.Now())
	return slices.Clone(s.resolved)
}

// Score regenerates the scored output from the queue, records units that
// stood down since the previous cycle, and persists the result. Persistence
// failures are logged and do not fail the cycle.
func (s *Scorer) Score(ctx context.Context, q EventSource) Result {
	now := s.clock.Now().UTC()
	active := q.ActiveUnits()
	activeSet := make(map[string]bool, len(active))
	for _, u := range active {
		activeSet[u] = true
	}

	units := make([]domain.ScoredUnit, 0, len(active))
	for _, unitID := range active {
		units = append(units, s.scoreUnit(q, unitID, activeSet, now))
	}
	slices.SortFunc(units, func(a, b domain.ScoredUnit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.UnitID, b.UnitID)
	})

	res := Result{Units: units, ScoredAt: now}
	s.diff(&res, now)
	s.resolved = append(slices.Clone(res.NewResolved), s.resolved...)
	s.pruneResolved(now)
	res.Resolved = slices.Clone(s.resolved)

	s.previous = make(map[string]domain.ScoredUnit, len(units))
	for _, u := range units {
		s.previous[u.UnitID] = u
	}

	s.observe(res)
	s.persist(ctx, res)
	return res
}

func (s *Scorer) scoreUnit(q EventSource, unitID string, active map[string]bool, now time.Time) domain.ScoredUnit {
	own := q.EventsForUnit(unitID)
	u := domain.ScoredUnit{
		UnitID:     unitID,
		Multiplier: 1,
		Events:     make([]domain.ScoredEvent, 0, len(own)),
		LastScored: now,
	}
	if e, ok := s.idx.Lookup(unitID); ok {
		u.BasinID, u.State = e.BasinID, e.State
	}

	for _, ev := range own {
		if u.BasinID == "" {
			u.BasinID = ev.Geography.BasinID
		}
		if u.State == "" {
			u.State = ev.Geography.State
		}
		base := s.tuning.BaseScore(ev.Source, ev.SeverityHint)
		decayed := base * Decay(ev.Age(now), s.tuning.Decay.Window, s.tuning.Decay.Floor)
		u.RawScore += decayed
		u.Events = append(u.Events, domain.ScoredEvent{
			EventID:      ev.EventID,
			Source:       ev.Source,
			UnitID:       unitID,
			Severity:     ev.SeverityHint,
			BaseScore:    base,
			DecayedScore: decayed,
		})
	}
	slices.SortStableFunc(u.Events, func(a, b domain.ScoredEvent) int {
		return cmp.Compare(b.DecayedScore, a.DecayedScore)
	})

	u.Patterns = s.matchPatterns(q, unitID, u.State, own, now)
	u.Multiplier = maxMultiplier(u.Patterns)

	for _, n := range s.idx.BasinNeighbors(unitID) {
		if active[n] {
			u.ActiveNeighbors = append(u.ActiveNeighbors, n)
		}
	}
	u.Score = u.RawScore * u.Multiplier
	if len(u.ActiveNeighbors) > 0 {
		u.AdjacencyBonus = true
		u.Score *= s.tuning.AdjacencyBonus
	}
	u.Level = s.tuning.Thresholds.Classify(u.Score)
	return u
}

// matchPatterns evaluates every configured pattern for a unit. Adjacent-scope
// patterns need the unit to be in the adjacency table; their candidates
// include neighbor events and state-wide events for the unit's state.
func (s *Scorer) matchPatterns(q EventSource, unitID, state string, own []domain.ChangeEvent, now time.Time) []domain.PatternMatch {
	var (
		wide    []domain.ChangeEvent
		hasWide bool
		matches []domain.PatternMatch
	)
	_, inTable := s.idx.Lookup(unitID)

	for _, p := range s.tuning.Patterns {
		candidates := own
		if p.Scope == config.ScopeAdjacent {
			if !inTable {
				continue
			}
			if !hasWide {
				wide = q.EventsForUnitAndAdjacent(unitID, s.idx)
				if state != "" {
					wide = append(wide, q.EventsForState(state)...)
				}
				hasWide = true
			}
			candidates = wide
		}
		if m, ok := matchPattern(p, unitID, inWindow(candidates, p.Window, now)); ok {
			matches = append(matches, m)
		}
	}
	slices.SortStableFunc(matches, func(a, b domain.PatternMatch) int {
		return cmp.Compare(b.Multiplier, a.Multiplier)
	})
	return matches
}

func inWindow(events []domain.ChangeEvent, window time.Duration, now time.Time) []domain.ChangeEvent {
	out := make([]domain.ChangeEvent, 0, len(events))
	for _, ev := range events {
		if ev.Age(now) <= window {
			out = append(out, ev)
		}
	}
	return out
}

// diff compares the new output with the previous cycle. Elevated units that
// fell below WATCH become resolved records; newly elevated or escalated units
// produce escalation alerts. Peaks are tracked for every elevated unit.
func (s *Scorer) diff(res *Result, now time.Time) {
	current := make(map[string]domain.ScoredUnit, len(res.Units))
	for _, u := range res.Units {
		current[u.UnitID] = u

		if !u.Level.Elevated() {
			continue
		}
		if pk, ok := s.peaks[u.UnitID]; !ok || u.Score > pk.Score {
			s.peaks[u.UnitID] = peak{Score: u.Score, Level: u.Level, Patterns: u.PatternIDs(), At: now}
		}

		prevLevel := domain.LevelNominal
		if prev, ok := s.previous[u.UnitID]; ok {
			prevLevel = prev.Level
		}
		if u.Level.Rank() > prevLevel.Rank() {
			res.Alerts = append(res.Alerts, domain.Alert{
				Kind:          domain.AlertEscalated,
				UnitID:        u.UnitID,
				Level:         u.Level,
				PreviousLevel: prevLevel,
				Score:         u.Score,
				Patterns:      u.PatternIDs(),
				At:            now,
			})
		}
	}

	prevIDs := make([]string, 0, len(s.previous))
	for id := range s.previous {
		prevIDs = append(prevIDs, id)
	}
	slices.Sort(prevIDs)

	for _, id := range prevIDs {
		prev := s.previous[id]
		if !prev.Level.Elevated() {
			continue
		}
		cur, ok := current[id]
		curLevel := domain.LevelNominal
		if ok {
			curLevel = cur.Level
		}
		if curLevel.Elevated() {
			continue
		}

		pk, ok := s.peaks[id]
		if !ok {
			pk = peak{Score: prev.Score, Level: prev.Level, Patterns: prev.PatternIDs(), At: prev.LastScored}
		}
		delete(s.peaks, id)

		r := domain.ResolvedUnit{
			UnitID:       id,
			PeakScore:    pk.Score,
			PeakLevel:    pk.Level,
			PeakPatterns: pk.Patterns,
			PeakAt:       pk.At,
			CurrentLevel: curLevel,
			ResolvedAt:   now,
		}
		res.NewResolved = append(res.NewResolved, r)
		res.Alerts = append(res.Alerts, domain.Alert{
			Kind:          domain.AlertResolved,
			UnitID:        id,
			Level:         curLevel,
			PreviousLevel: prev.Level,
			Score:         cur.Score,
			Patterns:      pk.Patterns,
			At:            now,
		})
		s.logger.Info("unit resolved",
			"unit_id", id,
			"peak_level", pk.Level,
			"peak_score", pk.Score,
			"current_level", curLevel,
		)
	}
}

// pruneResolved drops records older than the resolved TTL.
func (s *Scorer) pruneResolved(now time.Time) {
	cutoff := now.Add(-s.tuning.ResolvedTTL)
	s.resolved = slices.DeleteFunc(s.resolved, func(r domain.ResolvedUnit) bool {
		return r.ResolvedAt.Before(cutoff)
	})
}

func (s *Scorer) observe(res Result) {
	counts := map[domain.Level]int{}
	for _, u := range res.Units {
		counts[u.Level]++
	}
	for _, l := range []domain.Level{domain.LevelNominal, domain.LevelAdvisory, domain.LevelWatch, domain.LevelCritical} {
		s.metrics.ScoredUnits.WithLabelValues(string(l)).Set(float64(counts[l]))
	}
	s.metrics.ResolvedUnits.Add(float64(len(res.NewResolved)))
}

func (s *Scorer) persist(ctx context.Context, res Result) {
	p := persisted{
		ScoredAt: res.ScoredAt,
		Units:    res.Units,
		Resolved: res.Resolved,
		Peaks:    s.peaks,
	}
	if err := store.SaveJSON(ctx, s.store, store.KeyScored, p); err != nil {
		s.logger.Warn("scored output persist failed; continuing in memory", "units", len(res.Units), "error", err)
	}
}
