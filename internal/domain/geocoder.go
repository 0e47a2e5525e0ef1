package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	Level            string // provider match granularity, e.g. "门牌号" or "道路"
	Found            bool
}

// Geocoder resolves free-form addresses to coordinates.
type Geocoder interface {
	// ForwardGeocode converts an address, scoped to a city, to coordinates.
	// A definitive "no match" is a zero result with Found=false and a nil error.
	ForwardGeocode(ctx context.Context, address, city string) (GeocodingResult, error)
}
