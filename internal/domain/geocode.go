package domain

import (
	"context"
	"log/slog"
	"strings"
)

// ResolveState fills Geography.State for an event that arrived with
// coordinates but neither a unit nor a state. It reports whether the event
// was changed. Lookup failures leave the event untouched; it is still
// admitted and counted as unindexed.
func ResolveState(ctx context.Context, ev ChangeEvent, geocoder Geocoder, logger *slog.Logger) (ChangeEvent, bool) {
	if geocoder == nil || ev.Geography.Usable() || ev.Geography.Lat == nil || ev.Geography.Lng == nil {
		return ev, false
	}

	lat, lng := *ev.Geography.Lat, *ev.Geography.Lng
	result, err := geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"source", ev.Source,
			"record_id", ev.Metadata.SourceRecordID,
			"lat", lat,
			"lng", lng,
			"error", err,
		)
		return ev, false
	}
	if result.State == "" {
		return ev, false
	}

	ev.Geography.State = strings.ToUpper(result.State)
	return ev, true
}
