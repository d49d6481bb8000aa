package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var defaultTuning []byte

// Scope controls which units a compound pattern may draw events from.
type Scope string

const (
	ScopeSameUnit Scope = "same_unit"
	ScopeAdjacent Scope = "adjacent"
)

// Tuning holds every retunable number used by dedup, scoring, and polling.
type Tuning struct {
	BaseScores     map[domain.Source]map[domain.Severity]float64 `yaml:"base_scores"`
	Decay          DecayConfig                                   `yaml:"decay"`
	Dedup          DedupConfig                                   `yaml:"dedup"`
	Patterns       []PatternConfig                               `yaml:"patterns"`
	AdjacencyBonus float64                                       `yaml:"adjacency_bonus"`
	Thresholds     Thresholds                                    `yaml:"thresholds"`
	ResolvedTTL    time.Duration                                 `yaml:"resolved_ttl"`
	Polling        PollingConfig                                 `yaml:"polling"`
}

// DecayConfig shapes the linear time decay applied to event scores.
type DecayConfig struct {
	Window time.Duration `yaml:"window"`
	Floor  float64       `yaml:"floor"`
}

// DedupConfig holds the per-rule time windows and the sources each
// source-keyed rule applies to.
type DedupConfig struct {
	SameRecordWindow   time.Duration   `yaml:"same_record_window"`
	BurstWindow        time.Duration   `yaml:"burst_window"`
	RegulatoryCooldown time.Duration   `yaml:"regulatory_cooldown"`
	AlertUpdateSources []domain.Source `yaml:"alert_update_sources"`
	CooldownSources    []domain.Source `yaml:"cooldown_sources"`
}

// SourceGroup is one requirement of a compound pattern: at least one event
// from any of Sources.
type SourceGroup struct {
	Name    string          `yaml:"name"`
	Sources []domain.Source `yaml:"sources"`
}

// Contains reports whether src belongs to the group.
func (g SourceGroup) Contains(src domain.Source) bool {
	for _, s := range g.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// PatternConfig declares one named compound pattern.
type PatternConfig struct {
	ID                 string        `yaml:"id"`
	Name               string        `yaml:"name"`
	Window             time.Duration `yaml:"window"`
	Scope              Scope         `yaml:"scope"`
	Multiplier         float64       `yaml:"multiplier"`
	MinDistinctSources int           `yaml:"min_distinct_sources"`
	MinDistinctUnits   int           `yaml:"min_distinct_units"`
	SourceGroups       []SourceGroup `yaml:"source_groups"`
}

// Thresholds are the ascending score boundaries of ADVISORY, WATCH and CRITICAL.
type Thresholds struct {
	Advisory float64 `yaml:"advisory"`
	Watch    float64 `yaml:"watch"`
	Critical float64 `yaml:"critical"`
}

// Classify maps a score onto a level.
func (t Thresholds) Classify(score float64) domain.Level {
	switch {
	case score >= t.Critical:
		return domain.LevelCritical
	case score >= t.Watch:
		return domain.LevelWatch
	case score >= t.Advisory:
		return domain.LevelAdvisory
	default:
		return domain.LevelNominal
	}
}

// PollingConfig drives per-source poll cadence and failure backoff.
type PollingConfig struct {
	BaseInterval time.Duration         `yaml:"base_interval"`
	MaxInterval  time.Duration         `yaml:"max_interval"`
	OfflineAfter int                   `yaml:"offline_after"`
	MaxKnownIDs  int                   `yaml:"max_known_ids"`
	Multiples    map[domain.Source]int `yaml:"multiples"`
}

// Interval returns the healthy poll interval for a source.
func (p PollingConfig) Interval(src domain.Source) time.Duration {
	m := p.Multiples[src]
	if m <= 0 {
		m = 1
	}
	return p.BaseInterval * time.Duration(m)
}

// BaseScore looks up the source x severity table. Unknown pairs score zero.
func (t *Tuning) BaseScore(src domain.Source, sev domain.Severity) float64 {
	return t.BaseScores[src][sev]
}

// DefaultTuning returns the embedded tuning document.
func DefaultTuning() (*Tuning, error) {
	return ParseTuning(defaultTuning)
}

// LoadTuning reads a tuning document from path, or the embedded default when
// path is empty.
func LoadTuning(path string) (*Tuning, error) {
	if path == "" {
		return DefaultTuning()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes and validates a YAML tuning document.
func ParseTuning(data []byte) (*Tuning, error) {
	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the document for values the scoring algorithm cannot use.
// All problems are reported together.
func (t *Tuning) Validate() error {
	var errs []error

	for src, bySev := range t.BaseScores {
		if !src.Valid() {
			errs = append(errs, fmt.Errorf("base_scores: unknown source %q", src))
		}
		for sev, v := range bySev {
			if sev.Rank() == 0 {
				errs = append(errs, fmt.Errorf("base_scores.%s: unknown severity %q", src, sev))
			}
			if v < 0 {
				errs = append(errs, fmt.Errorf("base_scores.%s.%s: must not be negative", src, sev))
			}
		}
	}

	if t.Decay.Window <= 0 {
		errs = append(errs, errors.New("decay.window must be positive"))
	}
	if t.Decay.Floor <= 0 || t.Decay.Floor > 1 {
		errs = append(errs, errors.New("decay.floor must be in (0, 1]"))
	}

	if t.Dedup.SameRecordWindow <= 0 || t.Dedup.BurstWindow <= 0 || t.Dedup.RegulatoryCooldown <= 0 {
		errs = append(errs, errors.New("dedup windows must be positive"))
	}
	for _, src := range append(append([]domain.Source{}, t.Dedup.AlertUpdateSources...), t.Dedup.CooldownSources...) {
		if !src.Valid() {
			errs = append(errs, fmt.Errorf("dedup: unknown source %q", src))
		}
	}

	seen := make(map[string]bool, len(t.Patterns))
	for i, p := range t.Patterns {
		errs = append(errs, p.validate(i, seen)...)
	}

	if t.AdjacencyBonus < 1 {
		errs = append(errs, errors.New("adjacency_bonus must be at least 1"))
	}
	th := t.Thresholds
	if th.Advisory <= 0 || th.Watch <= th.Advisory || th.Critical <= th.Watch {
		errs = append(errs, errors.New("thresholds must be positive and strictly ascending (advisory < watch < critical)"))
	}
	if t.ResolvedTTL <= 0 {
		errs = append(errs, errors.New("resolved_ttl must be positive"))
	}

	if t.Polling.BaseInterval <= 0 {
		errs = append(errs, errors.New("polling.base_interval must be positive"))
	}
	if t.Polling.MaxInterval < t.Polling.BaseInterval {
		errs = append(errs, errors.New("polling.max_interval must not be below base_interval"))
	}
	if t.Polling.OfflineAfter < 2 {
		errs = append(errs, errors.New("polling.offline_after must be at least 2"))
	}
	for src := range t.Polling.Multiples {
		if !src.Valid() {
			errs = append(errs, fmt.Errorf("polling.multiples: unknown source %q", src))
		}
	}

	return errors.Join(errs...)
}

func (p PatternConfig) validate(i int, seen map[string]bool) []error {
	var errs []error
	label := p.ID
	if label == "" {
		label = fmt.Sprintf("#%d", i)
		errs = append(errs, fmt.Errorf("patterns[%d]: id is required", i))
	} else if seen[p.ID] {
		errs = append(errs, fmt.Errorf("patterns.%s: duplicate id", label))
	}
	seen[p.ID] = true

	if p.Window <= 0 {
		errs = append(errs, fmt.Errorf("patterns.%s: window must be positive", label))
	}
	if p.Scope != ScopeSameUnit && p.Scope != ScopeAdjacent {
		errs = append(errs, fmt.Errorf("patterns.%s: scope must be %q or %q", label, ScopeSameUnit, ScopeAdjacent))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("patterns.%s: multiplier must be at least 1", label))
	}
	if len(p.SourceGroups) == 0 {
		errs = append(errs, fmt.Errorf("patterns.%s: at least one source group is required", label))
	}
	for _, g := range p.SourceGroups {
		if len(g.Sources) == 0 {
			errs = append(errs, fmt.Errorf("patterns.%s.%s: group has no sources", label, g.Name))
		}
		for _, src := range g.Sources {
			if !src.Valid() {
				errs = append(errs, fmt.Errorf("patterns.%s.%s: unknown source %q", label, g.Name, src))
			}
		}
	}
	if p.MinDistinctUnits > 1 && p.Scope == ScopeSameUnit {
		errs = append(errs, fmt.Errorf("patterns.%s: min_distinct_units > 1 requires adjacent scope", label))
	}
	return errs
}
