package domain

import "time"

// Level is the severity classification of a scored watershed unit.
type Level string

const (
	LevelNominal  Level = "NOMINAL"
	LevelAdvisory Level = "ADVISORY"
	LevelWatch    Level = "WATCH"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels NOMINAL < ADVISORY < WATCH < CRITICAL.
func (l Level) Rank() int {
	switch l {
	case LevelAdvisory:
		return 1
	case LevelWatch:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// Elevated reports whether the level is WATCH or CRITICAL.
func (l Level) Elevated() bool {
	return l.Rank() >= LevelWatch.Rank()
}

// ParseLevel resolves a level name, defaulting to NOMINAL.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelAdvisory, LevelWatch, LevelCritical:
		return Level(s)
	default:
		return LevelNominal
	}
}

// ScoredEvent is a queued event's contribution to a unit score.
type ScoredEvent struct {
	EventID      string   `json:"eventId"`
	Source       Source   `json:"source"`
	UnitID       string   `json:"unitId"`
	Severity     Severity `json:"severity"`
	BaseScore    float64  `json:"baseScore"`
	DecayedScore float64  `json:"decayedScore"`
}

// PatternMatch records one compound pattern that matched for a unit.
type PatternMatch struct {
	PatternID  string   `json:"patternId"`
	Name       string   `json:"name"`
	Multiplier float64  `json:"multiplier"`
	EventIDs   []string `json:"eventIds"`
}

// ScoredUnit is the per-unit output of one scoring cycle. Regenerated
// wholesale every cycle.
type ScoredUnit struct {
	UnitID          string         `json:"unitId"`
	BasinID         string         `json:"basinId,omitempty"`
	State           string         `json:"state,omitempty"`
	Score           float64        `json:"score"`
	Level           Level          `json:"level"`
	RawScore        float64        `json:"rawScore"`
	Multiplier      float64        `json:"multiplier"`
	AdjacencyBonus  bool           `json:"adjacencyBonus"`
	ActiveNeighbors []string       `json:"activeNeighbors,omitempty"`
	Events          []ScoredEvent  `json:"events"`
	Patterns        []PatternMatch `json:"patterns,omitempty"`
	LastScored      time.Time      `json:"lastScored"`
}

// PatternIDs returns the ids of the matched patterns.
func (u ScoredUnit) PatternIDs() []string {
	ids := make([]string, 0, len(u.Patterns))
	for _, p := range u.Patterns {
		ids = append(ids, p.PatternID)
	}
	return ids
}

// ResolvedUnit records a unit that dropped out of WATCH/CRITICAL between two
// consecutive cycles. It has no effect on scoring.
type ResolvedUnit struct {
	UnitID       string    `json:"unitId"`
	PeakScore    float64   `json:"peakScore"`
	PeakLevel    Level     `json:"peakLevel"`
	PeakPatterns []string  `json:"peakPatterns,omitempty"`
	PeakAt       time.Time `json:"peakAt"`
	CurrentLevel Level     `json:"currentLevel"`
	ResolvedAt   time.Time `json:"resolvedAt"`
}

// QueueStats are derived on demand from the rolling queue.
type QueueStats struct {
	Total       int            `json:"total"`
	LastHour    int            `json:"lastHour"`
	Last6Hours  int            `json:"last6Hours"`
	Last24Hours int            `json:"last24Hours"`
	BySource    map[Source]int `json:"bySource"`
	ActiveUnits int            `json:"activeUnits"`
	Unindexed   int            `json:"unindexed"`
	Oldest      *time.Time     `json:"oldest,omitempty"`
	Newest      *time.Time     `json:"newest,omitempty"`
}

// AlertKind distinguishes escalation alerts from stand-down alerts.
type AlertKind string

const (
	AlertEscalated AlertKind = "escalated"
	AlertResolved  AlertKind = "resolved"
)

// Alert is published downstream when a unit escalates or resolves.
type Alert struct {
	Kind          AlertKind `json:"kind"`
	UnitID        string    `json:"unitId"`
	Level         Level     `json:"level"`
	PreviousLevel Level     `json:"previousLevel"`
	Score         float64   `json:"score"`
	Patterns      []string  `json:"patterns,omitempty"`
	At            time.Time `json:"at"`
}
