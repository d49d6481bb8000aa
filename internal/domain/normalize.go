package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NormalizeBatch prepares one adapter batch for deduplication. It stamps
// missing detection times with now, keeps DetectedAt non-decreasing within the
// batch, fills missing event ids and basin ids, and drops events whose source
// does not match the adapter that produced them. The second return value is
// the number of dropped events.
func NormalizeBatch(source Source, events []ChangeEvent, now time.Time) ([]ChangeEvent, int) {
	out := make([]ChangeEvent, 0, len(events))
	dropped := 0
	var last time.Time

	for _, ev := range events {
		if ev.Source == "" {
			ev.Source = source
		}
		if ev.Source != source || !ev.Source.Valid() {
			dropped++
			continue
		}
		if ev.DetectedAt.IsZero() {
			ev.DetectedAt = now
		}
		ev.DetectedAt = ev.DetectedAt.UTC()
		if ev.DetectedAt.Before(last) {
			ev.DetectedAt = last
		}
		last = ev.DetectedAt

		if ev.ChangeType == "" {
			ev.ChangeType = ChangeNewRecord
		}
		if ev.SeverityHint.Rank() == 0 {
			ev.SeverityHint = SeverityLow
		}
		ev.Geography = NormalizeGeography(ev.Geography)
		if ev.EventID == "" {
			ev.EventID = GenerateEventID(ev.Source, ev.Metadata.SourceRecordID, ev.DetectedAt)
		}
		out = append(out, ev)
	}
	return out, dropped
}

// NormalizeGeography trims identifiers, upper-cases the state code, and
// derives the parent basin from an 8-digit unit id when absent.
func NormalizeGeography(g Geography) Geography {
	g.UnitID = strings.TrimSpace(g.UnitID)
	g.BasinID = strings.TrimSpace(g.BasinID)
	g.State = strings.ToUpper(strings.TrimSpace(g.State))
	if g.BasinID == "" {
		g.BasinID = BasinOf(g.UnitID)
	}
	return g
}

// BasinOf returns the 6-digit parent basin of an 8-digit unit id, or "" when
// the id is too short to carry one.
func BasinOf(unitID string) string {
	if len(unitID) < 8 {
		return ""
	}
	return unitID[:6]
}

// GenerateEventID produces a deterministic id from the event's dedup identity.
// Replaying the same record at the same detection time yields the same id.
func GenerateEventID(source Source, recordID string, detectedAt time.Time) string {
	input := fmt.Sprintf("%s|%s|%d", source, recordID, detectedAt.UnixNano())
	hash := sha256.Sum256([]byte(input))
	return strings.ToLower(string(source)) + "-" + hex.EncodeToString(hash[:8])
}
