// Package domain models the change events, source state, and scored output of
// the watershed risk sentinel.
//
// # Signals
//
// Every upstream feed (weather alerts, streamflow gauges, sewer overflow
// reports, discharge violations, rainfall estimates, disaster declarations,
// enforcement actions, impairment listings, snowpack telemetry, drinking water
// violations) is reduced by its adapter to a list of [ChangeEvent] values:
//
//	source        which feed produced it (see [AllSources])
//	changeType    NEW_RECORD | VALUE_CHANGE | THRESHOLD_CROSSED | DOCUMENT_UPDATED
//	severityHint  LOW < MODERATE < HIGH < CRITICAL, assigned by the adapter
//	geography     8-digit watershed unit, derived 6-digit basin, state, lat/lng
//	metadata      sourceRecordId for dedup plus optional previous/current/threshold values
//
// # Watershed Units
//
// Watershed units are 8-digit hydrologic unit codes. The first six digits
// name the parent basin, so "02060003" belongs to basin "020600". Events that
// carry only a state code are kept for statistics and auditing but never join
// a unit's score.
//
// # Scored Output
//
// Each scoring cycle produces one [ScoredUnit] per unit with at least one
// queued event, classified NOMINAL < ADVISORY < WATCH < CRITICAL. A unit that
// leaves WATCH/CRITICAL between consecutive cycles produces a [ResolvedUnit]
// carrying its peak, used only for stand-down notifications.
package domain
