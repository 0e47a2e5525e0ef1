package amap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/couchcryptid/incident-risk/internal/observability"
)

const (
	defaultBaseURL = "https://restapi.amap.com/v3/geocode/geo"
	maxAttempts    = 3
)

// Client implements domain.Geocoder using the AMap (Gaode) geocoding API.
type Client struct {
	key        string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// NewClient creates an AMap geocoding client.
func NewClient(key string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		key: key,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			return bo
		},
	}
}

// ForwardGeocode resolves an address within city. Transport failures and non-200
// responses are retried up to three attempts in total; a rejected request
// (status "0", e.g. an invalid key) fails immediately.
func (c *Client) ForwardGeocode(ctx context.Context, address, city string) (domain.GeocodingResult, error) {
	params := url.Values{
		"key":     {c.key},
		"address": {address},
		"output":  {"json"},
	}
	if city != "" {
		params.Set("city", city)
	}
	fullURL := c.baseURL + "?" + params.Encode()

	var result domain.GeocodingResult
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		result, err = c.doRequest(ctx, fullURL)
		if err != nil && !isPermanent(err) {
			c.logger.Debug("amap request failed, retrying", "attempt", attempt, "error", err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxAttempts-1), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodingResult{}, err
	}

	if !result.Found {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return result, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return domain.GeocodingResult{}, backoff.Permanent(ctx.Err())
		}
		return domain.GeocodingResult{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.GeocodingResult{}, fmt.Errorf("amap API error: status %d: %s", resp.StatusCode, body)
	}

	var amapResp response
	if err := json.NewDecoder(resp.Body).Decode(&amapResp); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}

	if amapResp.Status != "1" {
		return domain.GeocodingResult{}, backoff.Permanent(
			fmt.Errorf("amap API rejected request: %s (infocode %s)", amapResp.Info, amapResp.InfoCode))
	}
	if len(amapResp.Geocodes) == 0 {
		return domain.GeocodingResult{}, nil
	}

	g := amapResp.Geocodes[0]
	lat, lon, err := parseLocation(g.Location)
	if err != nil {
		return domain.GeocodingResult{}, backoff.Permanent(err)
	}
	return domain.GeocodingResult{
		Lat:              lat,
		Lon:              lon,
		FormattedAddress: g.FormattedAddress,
		Level:            g.Level,
		Found:            true,
	}, nil
}

// parseLocation splits AMap's "lon,lat" pair.
func parseLocation(loc string) (lat, lon float64, err error) {
	lonStr, latStr, ok := strings.Cut(loc, ",")
	if !ok {
		return 0, 0, fmt.Errorf("malformed location %q", loc)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed location %q: %w", loc, err)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed location %q: %w", loc, err)
	}
	return lat, lon, nil
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// AMap API response types.

type response struct {
	Status   string    `json:"status"`
	Info     string    `json:"info"`
	InfoCode string    `json:"infocode"`
	Count    string    `json:"count"`
	Geocodes []geocode `json:"geocodes"`
}

type geocode struct {
	FormattedAddress string `json:"formatted_address"`
	Location         string `json:"location"` // "lon,lat"
	Level            string `json:"level"`
}
