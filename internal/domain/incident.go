package domain

import (
	"fmt"
	"math"
	"time"
)

// NoCluster marks an incident whose upstream spatial cluster id is unknown.
const NoCluster = -1

// Incident is one cleaned, geocoded incident record.
type Incident struct {
	ID              string    `json:"id"`
	OpenedAt        time.Time `json:"opened_at"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	Address         string    `json:"address,omitempty"`
	IncidentType    string    `json:"incident_type"`
	Brigade         string    `json:"brigade"`
	Street          string    `json:"street"`
	Station         string    `json:"station"`
	IndoorOutdoor   string    `json:"indoor_outdoor"`
	Note            string    `json:"note"`
	ResponseMinutes float64   `json:"response_minutes"`
	Cluster         int       `json:"cluster"`

	// NeedsGeocoding is set by the reader when lat/lon were blank but an address is present.
	NeedsGeocoding bool `json:"-"`
}

// Date returns the calendar date the incident was opened on.
func (i Incident) Date() time.Time {
	return CalendarDate(i.OpenedAt)
}

// Validate checks that the coordinates are finite and within WGS-84 bounds.
func (i Incident) Validate() error {
	if math.IsNaN(i.Lat) || math.IsNaN(i.Lon) || math.IsInf(i.Lat, 0) || math.IsInf(i.Lon, 0) {
		return fmt.Errorf("incident %s: %w", i.ID, ErrInvalidCoordinates)
	}
	if i.Lat < -90 || i.Lat > 90 || i.Lon < -180 || i.Lon > 180 {
		return fmt.Errorf("incident %s: lat %.6f lon %.6f: %w", i.ID, i.Lat, i.Lon, ErrInvalidCoordinates)
	}
	if i.OpenedAt.IsZero() {
		return fmt.Errorf("incident %s: %w: missing timestamp", i.ID, ErrMalformedInput)
	}
	return nil
}

// ClampResponseMinutes maps missing (NaN) or negative durations to 0.
func ClampResponseMinutes(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// CalendarDate truncates t to midnight UTC of its wall-clock date, so dates compare
// and subtract as whole days regardless of the source location.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(CalendarDate(b).Sub(CalendarDate(a)).Hours() / 24)
}

// Weekday returns the day of week with Monday = 0 and Sunday = 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// IsWeekend reports whether a Monday-based weekday falls on Saturday or Sunday.
func IsWeekend(weekday int) bool {
	return weekday >= 5
}
