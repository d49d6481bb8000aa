package domain

import "time"

// Health is the derived status of a feed based on consecutive failures.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthDegraded Health = "DEGRADED"
	HealthOffline  Health = "OFFLINE"
)

// SourceState is the per-source continuation state owned by the core between
// adapter invocations. Adapters read it and return a StateUpdate; they never
// store it themselves.
type SourceState struct {
	Source              Source               `json:"source"`
	LastPollAt          time.Time            `json:"lastPollAt,omitzero"`
	LastSuccessAt       time.Time            `json:"lastSuccessAt,omitzero"`
	NextPollAt          time.Time            `json:"nextPollAt,omitzero"`
	FirstFailureAt      time.Time            `json:"firstFailureAt,omitzero"`
	ConsecutiveFailures int                  `json:"consecutiveFailures"`
	LastError           string               `json:"lastError,omitempty"`
	Health              Health               `json:"health"`
	KnownRecordIDs      []string             `json:"knownRecordIds,omitempty"`
	LastValues          map[string]float64   `json:"lastValues,omitempty"`
	LastTimestamps      map[string]time.Time `json:"lastTimestamps,omitempty"`
}

// Knows reports whether the record id is in the known set.
func (s SourceState) Knows(recordID string) bool {
	for _, id := range s.KnownRecordIDs {
		if id == recordID {
			return true
		}
	}
	return false
}

// StateUpdate is the partial SourceState an adapter returns. Nil fields leave
// the stored value untouched.
type StateUpdate struct {
	KnownRecordIDs []string
	LastValues     map[string]float64
	LastTimestamps map[string]time.Time
}

// AdapterResult is the output contract of a single adapter poll.
type AdapterResult struct {
	Events []ChangeEvent
	State  StateUpdate
}
