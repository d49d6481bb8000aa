// Package dedup decides whether an incoming change event repeats a signal that
// is already queued. Rules are an ordered strategy list keyed by an
// applicability predicate, so new sources can register their own rule without
// touching the others.
package dedup

import (
	"maps"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
)

// Rule names, also used as metric labels.
const (
	RuleDuplicateEvent     = "duplicate_event"
	RuleSameRecord         = "same_record"
	RuleGeoBurst           = "geo_burst"
	RuleAlertUpdate        = "alert_update"
	RuleRegulatoryCooldown = "regulatory_cooldown"
)

// Rule is one suppression strategy. Applies gates the rule on the incoming
// event; Match compares it with a single queued event and may mutate the
// queued event in place.
type Rule struct {
	Name    string
	Applies func(incoming domain.ChangeEvent) bool
	Match   func(incoming domain.ChangeEvent, queued *domain.ChangeEvent) bool
}

// Decision is the outcome of evaluating one incoming event.
type Decision struct {
	Suppress       bool
	Rule           string // first rule that matched
	MatchedEventID string // queued event that matched first
	Upgraded       int    // queued events whose severity was raised in place
}

// Engine evaluates the registered rules in order.
type Engine struct {
	rules []Rule
}

// New builds the default rule list from the dedup tuning.
func New(cfg config.DedupConfig) *Engine {
	alertUpdate := sourceSet(cfg.AlertUpdateSources)
	cooldown := sourceSet(cfg.CooldownSources)
	notAlertUpdate := func(in domain.ChangeEvent) bool { return !alertUpdate[in.Source] }

	return &Engine{rules: []Rule{
		{
			Name:    RuleDuplicateEvent,
			Applies: func(domain.ChangeEvent) bool { return true },
			Match: func(in domain.ChangeEvent, q *domain.ChangeEvent) bool {
				return in.EventID != "" && in.EventID == q.EventID && in.SeverityHint == q.SeverityHint
			},
		},
		{
			Name:    RuleSameRecord,
			Applies: notAlertUpdate,
			Match: func(in domain.ChangeEvent, q *domain.ChangeEvent) bool {
				return in.Source == q.Source &&
					sameRecord(in, *q) &&
					within(in.DetectedAt, q.DetectedAt, cfg.SameRecordWindow)
			},
		},
		{
			Name:    RuleGeoBurst,
			Applies: func(domain.ChangeEvent) bool { return true },
			Match: func(in domain.ChangeEvent, q *domain.ChangeEvent) bool {
				if in.Source != q.Source || in.ChangeType != q.ChangeType {
					return false
				}
				// A re-issued alert is judged by alert_update, not folded into the burst.
				if alertUpdate[in.Source] && sameRecord(in, *q) {
					return false
				}
				if !sameGeography(in, *q) || !within(in.DetectedAt, q.DetectedAt, cfg.BurstWindow) {
					return false
				}
				if in.SeverityHint.Rank() > q.SeverityHint.Rank() {
					q.SeverityHint = in.SeverityHint
					q.Payload = maps.Clone(in.Payload)
				}
				return true
			},
		},
		{
			// Alert feeds are re-evaluated every poll; only a severity change is news.
			Name:    RuleAlertUpdate,
			Applies: func(in domain.ChangeEvent) bool { return alertUpdate[in.Source] },
			Match: func(in domain.ChangeEvent, q *domain.ChangeEvent) bool {
				return in.Source == q.Source && sameRecord(in, *q) && in.SeverityHint == q.SeverityHint
			},
		},
		{
			Name:    RuleRegulatoryCooldown,
			Applies: func(in domain.ChangeEvent) bool { return cooldown[in.Source] },
			Match: func(in domain.ChangeEvent, q *domain.ChangeEvent) bool {
				return in.Source == q.Source &&
					sameGeography(in, *q) &&
					within(in.DetectedAt, q.DetectedAt, cfg.RegulatoryCooldown)
			},
		},
	}}
}

// Register appends a rule. It is evaluated after the built-in rules.
func (e *Engine) Register(r Rule) {
	e.rules = append(e.rules, r)
}

// Rules returns the registered rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name)
	}
	return names
}

// Evaluate runs every applicable rule against every queued event. Any match
// suppresses the incoming event. Evaluation does not stop at the first match
// so that every burst sibling receives an in-place severity upgrade.
func (e *Engine) Evaluate(incoming domain.ChangeEvent, queued []*domain.ChangeEvent) Decision {
	var d Decision
	for _, r := range e.rules {
		if !r.Applies(incoming) {
			continue
		}
		for _, q := range queued {
			before := q.SeverityHint
			if !r.Match(incoming, q) {
				continue
			}
			if q.SeverityHint != before {
				d.Upgraded++
			}
			if !d.Suppress {
				d.Suppress = true
				d.Rule = r.Name
				d.MatchedEventID = q.EventID
			}
		}
	}
	return d
}

// ShouldSuppress reports whether incoming duplicates a queued event. It may
// upgrade a queued event's severity and payload in place.
func (e *Engine) ShouldSuppress(incoming domain.ChangeEvent, queued []*domain.ChangeEvent) bool {
	return e.Evaluate(incoming, queued).Suppress
}

func sourceSet(sources []domain.Source) map[domain.Source]bool {
	set := make(map[domain.Source]bool, len(sources))
	for _, s := range sources {
		set[s] = true
	}
	return set
}

func sameRecord(a, b domain.ChangeEvent) bool {
	return a.Metadata.SourceRecordID != "" && a.Metadata.SourceRecordID == b.Metadata.SourceRecordID
}

func sameGeography(a, b domain.ChangeEvent) bool {
	k := a.Geography.Key()
	return k != "" && k == b.Geography.Key()
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
