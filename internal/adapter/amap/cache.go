package amap

import (
	"context"
	"sync"

	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/couchcryptid/incident-risk/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory cache keyed by the normalized
// address and city. Successful lookups and definitive "not found" answers are both
// cached for the lifetime of the run; errors are not.
type CachedGeocoder struct {
	inner   domain.Geocoder
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]domain.GeocodingResult
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		metrics: metrics,
		entries: make(map[string]domain.GeocodingResult),
	}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, address, city string) (domain.GeocodingResult, error) {
	key := city + "|" + domain.NormalizeAddress(address)

	c.mu.Lock()
	result, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ForwardGeocode(ctx, address, city)
	if err != nil {
		return result, err
	}

	c.mu.Lock()
	c.entries[key] = result
	c.mu.Unlock()
	return result, nil
}

// Len returns the number of cached addresses.
func (c *CachedGeocoder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
