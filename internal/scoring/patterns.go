package scoring

import (
	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
)

// matchPattern checks one compound pattern against the candidate events of a
// unit. Candidates must already be limited to the pattern's geography scope
// and time window. The unit's own events must contribute at least one
// group-matching event; neighbor activity alone never lifts a unit.
func matchPattern(p config.PatternConfig, unitID string, candidates []domain.ChangeEvent) (domain.PatternMatch, bool) {
	var contributing []domain.ChangeEvent
	for _, g := range p.SourceGroups {
		found := false
		for _, ev := range candidates {
			if g.Contains(ev.Source) {
				found = true
				break
			}
		}
		if !found {
			return domain.PatternMatch{}, false
		}
	}

	for _, ev := range candidates {
		for _, g := range p.SourceGroups {
			if g.Contains(ev.Source) {
				contributing = append(contributing, ev)
				break
			}
		}
	}

	sources := make(map[domain.Source]bool)
	units := make(map[string]bool)
	own := false
	for _, ev := range contributing {
		sources[ev.Source] = true
		if ev.Geography.UnitID != "" {
			units[ev.Geography.UnitID] = true
		}
		if ev.Geography.UnitID == unitID {
			own = true
		}
	}
	if !own || len(sources) < p.MinDistinctSources || len(units) < p.MinDistinctUnits {
		return domain.PatternMatch{}, false
	}

	ids := make([]string, 0, len(contributing))
	for _, ev := range contributing {
		ids = append(ids, ev.EventID)
	}
	return domain.PatternMatch{
		PatternID:  p.ID,
		Name:       p.Name,
		Multiplier: p.Multiplier,
		EventIDs:   ids,
	}, true
}

// maxMultiplier returns the single highest multiplier among the matches, or
// 1 when nothing matched. Matches never stack.
func maxMultiplier(matches []domain.PatternMatch) float64 {
	m := 1.0
	for _, pm := range matches {
		if pm.Multiplier > m {
			m = pm.Multiplier
		}
	}
	return m
}
