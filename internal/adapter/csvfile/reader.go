package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/incident-risk/internal/domain"
)

// Required and optional incident columns.
var (
	requiredColumns = []string{
		"opened_at", "lat", "lon", "incident_type", "brigade", "street",
		"station", "indoor_outdoor", "note", "response_minutes",
	}
	optionalColumns = []string{"cluster", "address", "id"}
)

// timestampLayouts are tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 15:04",
}

const utf8BOM = "\ufeff"

// Reader loads incidents from a CSV file with a header row.
type Reader struct {
	path   string
	logger *slog.Logger
}

// NewReader creates a Reader for the file at path.
func NewReader(path string, logger *slog.Logger) *Reader {
	return &Reader{path: path, logger: logger}
}

// Load reads every incident in file order.
func (r *Reader) Load(ctx context.Context) ([]domain.Incident, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open incidents: %w", err)
	}
	defer f.Close()

	incidents, stats, err := decodeTable(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}
	if stats.unparsedMinutes > 0 {
		r.logger.Info("non-numeric response_minutes set to 0", "path", r.path, "rows", stats.unparsedMinutes)
	}
	if stats.unparsedClusters > 0 {
		r.logger.Info("invalid cluster ids ignored", "path", r.path, "rows", stats.unparsedClusters)
	}
	r.logger.Info("incidents loaded", "path", r.path, "rows", len(incidents))
	return incidents, nil
}

// Decode parses an incident table. Schema, timestamp and coordinate errors wrap
// domain.ErrMalformedInput and name the offending row (1-based, header excluded) and
// column. A response_minutes value that is not a number is read as 0, and a cluster id
// that is not a non-negative integer as domain.NoCluster.
func Decode(ctx context.Context, src io.Reader) ([]domain.Incident, error) {
	incidents, _, err := decodeTable(ctx, src)
	return incidents, err
}

type decodeStats struct {
	unparsedMinutes  int
	unparsedClusters int
}

func decodeTable(ctx context.Context, src io.Reader) ([]domain.Incident, decodeStats, error) {
	var stats decodeStats
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, fmt.Errorf("%w: missing header row", domain.ErrMalformedInput)
	}
	if err != nil {
		return nil, stats, fmt.Errorf("%w: read header: %v", domain.ErrMalformedInput, err)
	}
	cols, err := indexHeader(header)
	if err != nil {
		return nil, stats, err
	}

	var incidents []domain.Incident
	for row := 1; ; row++ {
		if row%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("%w: row %d: %v", domain.ErrMalformedInput, row, err)
		}
		inc, err := parseRecord(record, cols, row, &stats)
		if err != nil {
			return nil, stats, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, stats, nil
}

type columnIndex map[string]int

func indexHeader(header []string) (columnIndex, error) {
	cols := make(columnIndex, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, utf8BOM))
		cols[strings.ToLower(name)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing column(s) %s", domain.ErrMalformedInput, strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c columnIndex) get(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseRecord(record []string, cols columnIndex, row int, stats *decodeStats) (domain.Incident, error) {
	malformed := func(column, value string, cause error) error {
		if cause != nil {
			return fmt.Errorf("%w: row %d column %s: %q: %v", domain.ErrMalformedInput, row, column, value, cause)
		}
		return fmt.Errorf("%w: row %d column %s: %q", domain.ErrMalformedInput, row, column, value)
	}

	inc := domain.Incident{
		ID:            cols.get(record, "id"),
		Address:       cols.get(record, "address"),
		IncidentType:  cols.get(record, "incident_type"),
		Brigade:       cols.get(record, "brigade"),
		Street:        cols.get(record, "street"),
		Station:       cols.get(record, "station"),
		IndoorOutdoor: cols.get(record, "indoor_outdoor"),
		Note:          cols.get(record, "note"),
		Cluster:       domain.NoCluster,
	}
	if inc.ID == "" {
		inc.ID = strconv.Itoa(row)
	}

	raw := cols.get(record, "opened_at")
	openedAt, err := parseTimestamp(raw)
	if err != nil {
		return inc, malformed("opened_at", raw, err)
	}
	inc.OpenedAt = openedAt

	latRaw, lonRaw := cols.get(record, "lat"), cols.get(record, "lon")
	if latRaw == "" && lonRaw == "" && inc.Address != "" {
		inc.NeedsGeocoding = true
	} else {
		if inc.Lat, err = strconv.ParseFloat(latRaw, 64); err != nil {
			return inc, malformed("lat", latRaw, nil)
		}
		if inc.Lon, err = strconv.ParseFloat(lonRaw, 64); err != nil {
			return inc, malformed("lon", lonRaw, nil)
		}
	}

	if v := cols.get(record, "response_minutes"); v != "" {
		minutes, err := strconv.ParseFloat(v, 64)
		if err != nil {
			minutes = math.NaN()
			stats.unparsedMinutes++
		}
		inc.ResponseMinutes = domain.ClampResponseMinutes(minutes)
	}

	if v := cols.get(record, "cluster"); v != "" {
		if cluster, err := strconv.Atoi(v); err == nil && cluster >= 0 {
			inc.Cluster = cluster
		} else {
			stats.unparsedClusters++
		}
	}
	return inc, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised timestamp format")
}
