package domain

import "context"

// RegionResult is the administrative region enclosing a coordinate.
type RegionResult struct {
	State      string // two-letter code, empty when the point falls outside any state
	PlaceName  string
	Confidence float64 // 0.0-1.0 provider confidence score
}

// Geocoder resolves coordinates to the state that contains them.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (RegionResult, error)
}
