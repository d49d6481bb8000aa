package domain

import (
	"strings"
	"time"
)

// Source identifies one upstream environmental or regulatory feed.
type Source string

const (
	SourceNWSAlerts         Source = "NWS_ALERTS"         // NWS watches, warnings, advisories
	SourceUSGSStreamflow    Source = "USGS_STREAMFLOW"    // USGS instantaneous-value gauges
	SourceSSOCSO            Source = "SSO_CSO"            // sanitary / combined sewer overflow reports
	SourceNPDESViolations   Source = "NPDES_VIOLATIONS"   // EPA ICIS discharge monitoring violations
	SourceQPERainfall       Source = "QPE_RAINFALL"       // quantitative precipitation estimates
	SourceFEMADisasters     Source = "FEMA_DISASTERS"     // disaster declarations
	SourceECHOEnforcement   Source = "ECHO_ENFORCEMENT"   // formal and informal enforcement actions
	SourceATTAINSImpairment Source = "ATTAINS_IMPAIRMENT" // 303(d) impairment listings
	SourceSNOTEL            Source = "NRCS_SNOTEL"        // snowpack / snowmelt telemetry
	SourceSDWISViolations   Source = "SDWIS_VIOLATIONS"   // drinking water system violations
)

// AllSources lists every known feed in a stable order.
var AllSources = []Source{
	SourceNWSAlerts,
	SourceUSGSStreamflow,
	SourceSSOCSO,
	SourceNPDESViolations,
	SourceQPERainfall,
	SourceFEMADisasters,
	SourceECHOEnforcement,
	SourceATTAINSImpairment,
	SourceSNOTEL,
	SourceSDWISViolations,
}

// Valid reports whether s is one of AllSources.
func (s Source) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSource resolves a case-insensitive feed name.
func ParseSource(s string) (Source, bool) {
	src := Source(strings.ToUpper(strings.TrimSpace(s)))
	return src, src.Valid()
}

// ChangeType describes what kind of upstream change produced an event.
type ChangeType string

const (
	ChangeNewRecord        ChangeType = "NEW_RECORD"
	ChangeValueChange      ChangeType = "VALUE_CHANGE"
	ChangeThresholdCrossed ChangeType = "THRESHOLD_CROSSED"
	ChangeDocumentUpdated  ChangeType = "DOCUMENT_UPDATED"
)

// Severity is the source-assigned urgency of a single event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities LOW < MODERATE < HIGH < CRITICAL. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityModerate:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Geography locates an event. At least one of UnitID or State must be set
// for the event to be spatially usable.
type Geography struct {
	UnitID  string   `json:"unitId,omitempty"`  // 8-digit watershed unit code
	BasinID string   `json:"basinId,omitempty"` // parent basin, first 6 digits of UnitID
	State   string   `json:"state,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Usable reports whether the geography carries a unit or a state.
func (g Geography) Usable() bool {
	return g.UnitID != "" || g.State != ""
}

// Key returns the unit id when present, otherwise a state-scoped key.
// Empty when the geography is unusable.
func (g Geography) Key() string {
	if g.UnitID != "" {
		return g.UnitID
	}
	if g.State != "" {
		return "state:" + g.State
	}
	return ""
}

// Metadata carries the dedup identity and optional numeric readings.
type Metadata struct {
	SourceRecordID string   `json:"sourceRecordId"`
	PreviousValue  *float64 `json:"previousValue,omitempty"`
	CurrentValue   *float64 `json:"currentValue,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
}

// ChangeEvent is the normalized unit of signal produced by an adapter.
type ChangeEvent struct {
	EventID         string         `json:"eventId"`
	Source          Source         `json:"source"`
	DetectedAt      time.Time      `json:"detectedAt"`
	SourceTimestamp *time.Time     `json:"sourceTimestamp,omitempty"`
	ChangeType      ChangeType     `json:"changeType"`
	SeverityHint    Severity       `json:"severityHint"`
	Geography       Geography      `json:"geography"`
	Payload         map[string]any `json:"payload,omitempty"`
	Metadata        Metadata       `json:"metadata"`
}

// Age returns how long ago the event was detected relative to now.
func (e ChangeEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.DetectedAt)
}
