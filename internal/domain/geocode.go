package domain

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// GeocodeStats counts the outcome of ResolveCoordinates.
type GeocodeStats struct {
	Resolved int
	Failed   int
	Missing  int
}

// ResolveCoordinates fills in coordinates for incidents marked NeedsGeocoding, with at
// most workers concurrent lookups. Incidents that cannot be resolved are dropped with a
// warning; the rest keep their input order. A nil geocoder drops every unresolved row.
// Only context cancellation is returned as an error.
func ResolveCoordinates(ctx context.Context, incidents []Incident, geocoder Geocoder, city string, workers int, logger *slog.Logger) ([]Incident, GeocodeStats, error) {
	var stats GeocodeStats
	resolved := make([]bool, len(incidents))
	failed := make([]bool, len(incidents))
	out := make([]Incident, len(incidents))
	copy(out, incidents)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := range out {
		if !out[i].NeedsGeocoding || geocoder == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			addr := CleanAddress(out[i].Address)
			result, err := geocoder.ForwardGeocode(gctx, addr, city)
			if err != nil {
				logger.Warn("forward geocoding failed",
					"incident_id", out[i].ID,
					"address", addr,
					"error", err,
				)
				failed[i] = true
				return nil
			}
			if !result.Found {
				logger.Warn("address not found by geocoder",
					"incident_id", out[i].ID,
					"address", addr,
				)
				failed[i] = true
				return nil
			}
			out[i].Lat = result.Lat
			out[i].Lon = result.Lon
			out[i].NeedsGeocoding = false
			resolved[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	kept := out[:0]
	for i, inc := range out {
		switch {
		case resolved[i]:
			stats.Resolved++
		case failed[i]:
			stats.Failed++
			continue
		case inc.NeedsGeocoding:
			stats.Missing++
			continue
		}
		kept = append(kept, inc)
	}
	if stats.Missing > 0 {
		logger.Warn("incidents without coordinates dropped, geocoding disabled", "count", stats.Missing)
	}
	return kept, stats, nil
}
