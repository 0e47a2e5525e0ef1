package domain

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"
)

// Feature matrix column positions. Keyword columns follow NumBaseColumns.
const (
	ColLatGrid = iota
	ColLonGrid
	ColRollingSelf
	ColRollingNeighbor
	ColHour
	ColMonth
	ColWeekday
	ColIsWeekend
	ColIncidentType
	ColBrigade
	ColStreet
	ColStation
	ColIndoorOutdoor
	ColResponseMinutes
	ColCluster
	ColCumulativeCount
	NumBaseColumns
)

var baseColumnNames = [NumBaseColumns]string{
	"lat_grid", "lon_grid", "rolling_self_count", "rolling_neighbor_count",
	"hour", "month", "weekday", "is_weekend",
	"incident_type", "brigade", "street", "station", "indoor_outdoor",
	"response_minutes", "cluster", "cumulative_count",
}

// CategoricalColumns lists the label-encoded incident attributes in column order.
var CategoricalColumns = []string{"incident_type", "brigade", "street", "station", "indoor_outdoor"}

// ExampleMeta carries the context of a dataset row for reporting.
type ExampleMeta struct {
	Cell            Cell
	Date            time.Time
	Hour            int
	Month           int
	Weekday         int
	Cluster         int
	RollingSelf     int
	RollingNeighbor int
}

// Dataset is the assembled training matrix with its encoders.
type Dataset struct {
	Columns  []string
	X        [][]float64
	Y        []int
	Meta     []ExampleMeta
	Encoders map[string]*LabelEncoder
	Keywords *KeywordVocabulary

	// SparseJoinGaps counts rows that had no prior incident in their cell.
	SparseJoinGaps int

	// latest is the most recent incident of every observed cell, including incidents on
	// the final history date that no training row can join.
	latest map[Cell]auxRecord
}

// Assembler joins feature rows with per-incident auxiliary attributes.
type Assembler struct {
	KeywordCount   int
	KeywordPattern string
	Clusters       int
	Seed           uint64
	Logger         *slog.Logger
}

// auxRecord is the numeric auxiliary view of one incident.
type auxRecord struct {
	date       time.Time
	openedAt   time.Time
	hour       int
	codes      [5]int
	response   float64
	cluster    int
	cumulative int
	keywords   []float64
}

// Assemble builds the dataset. Each feature row (cell, d) joins the latest incident of
// the cell dated strictly before d; rows without one get zero auxiliary fields.
func (a Assembler) Assemble(incidents []Incident, table *FeatureTable, grid Grid) (*Dataset, error) {
	if len(incidents) == 0 {
		return nil, ErrEmptyIncidentSet
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	encoders := fitEncoders(incidents)
	notes := make([]string, len(incidents))
	for i, inc := range incidents {
		notes[i] = inc.Note
	}
	keywords, err := FitKeywords(notes, a.KeywordCount, a.KeywordPattern)
	if err != nil {
		return nil, err
	}
	clusters, err := a.clusterLabels(incidents)
	if err != nil {
		return nil, err
	}

	history := make(map[Cell][]auxRecord)
	for i, inc := range incidents {
		cell := grid.Bin(inc.Lat, inc.Lon)
		rec := auxRecord{
			date:       inc.Date(),
			openedAt:   inc.OpenedAt,
			hour:       inc.OpenedAt.Hour(),
			response:   ClampResponseMinutes(inc.ResponseMinutes),
			cluster:    clusters[i],
			cumulative: len(history[cell]),
			keywords:   keywords.Counts(inc.Note),
		}
		for c, v := range categoricalValues(inc) {
			rec.codes[c], _ = encoders[CategoricalColumns[c]].Encode(v)
		}
		history[cell] = append(history[cell], rec)
	}
	for _, recs := range history {
		slices.SortStableFunc(recs, func(x, y auxRecord) int { return x.openedAt.Compare(y.openedAt) })
	}

	latest := make(map[Cell]auxRecord, len(history))
	for cell, recs := range history {
		latest[cell] = recs[len(recs)-1]
	}

	ds := &Dataset{
		Columns:  append(slices.Clone(baseColumnNames[:]), keywordColumns(keywords)...),
		X:        make([][]float64, len(table.Rows)),
		Y:        make([]int, len(table.Rows)),
		Meta:     make([]ExampleMeta, len(table.Rows)),
		Encoders: encoders,
		Keywords: keywords,
		latest:   latest,
	}

	for r, row := range table.Rows {
		x := make([]float64, len(ds.Columns))
		latGrid, lonGrid := grid.Origin(row.Cell)
		month := int(row.Date.Month())
		x[ColLatGrid] = latGrid
		x[ColLonGrid] = lonGrid
		x[ColRollingSelf] = float64(row.RollingSelf)
		x[ColRollingNeighbor] = float64(row.RollingNeighbor)
		x[ColMonth] = float64(month)
		x[ColWeekday] = float64(row.Weekday)
		x[ColIsWeekend] = boolFloat(IsWeekend(row.Weekday))

		meta := ExampleMeta{
			Cell:            row.Cell,
			Date:            row.Date,
			Month:           month,
			Weekday:         row.Weekday,
			RollingSelf:     row.RollingSelf,
			RollingNeighbor: row.RollingNeighbor,
		}

		if rec, ok := latestBefore(history[row.Cell], row.Date); ok {
			rec.writeTo(x)
			meta.Hour = rec.hour
			meta.Cluster = rec.cluster
		} else {
			ds.SparseJoinGaps++
		}

		ds.X[r] = x
		ds.Y[r] = row.Label
		ds.Meta[r] = meta
	}

	if ds.SparseJoinGaps > 0 {
		logger.Info("feature rows without prior incident in cell, auxiliary fields set to 0",
			"rows", ds.SparseJoinGaps,
			"total_rows", len(table.Rows),
		)
	}
	return ds, nil
}

// clusterLabels consumes upstream cluster ids when every incident has one, and runs
// k-means on raw coordinates otherwise.
func (a Assembler) clusterLabels(incidents []Incident) ([]int, error) {
	labels := make([]int, len(incidents))
	upstream := true
	for i, inc := range incidents {
		if inc.Cluster < 0 {
			upstream = false
			break
		}
		labels[i] = inc.Cluster
	}
	if upstream {
		return labels, nil
	}

	points := make([]Point, len(incidents))
	for i, inc := range incidents {
		points[i] = Point{Lat: inc.Lat, Lon: inc.Lon}
	}
	km := KMeans{K: a.Clusters, Restarts: 10, Seed: a.Seed}
	labels, _, err := km.Fit(points)
	if err != nil {
		return nil, fmt.Errorf("spatial clustering: %w", err)
	}
	return labels, nil
}

func fitEncoders(incidents []Incident) map[string]*LabelEncoder {
	values := make([][]string, len(CategoricalColumns))
	for _, inc := range incidents {
		for c, v := range categoricalValues(inc) {
			values[c] = append(values[c], v)
		}
	}
	encoders := make(map[string]*LabelEncoder, len(CategoricalColumns))
	for c, name := range CategoricalColumns {
		encoders[name] = FitLabelEncoder(values[c])
	}
	return encoders
}

func categoricalValues(inc Incident) [5]string {
	return [5]string{inc.IncidentType, inc.Brigade, inc.Street, inc.Station, inc.IndoorOutdoor}
}

func keywordColumns(v *KeywordVocabulary) []string {
	tokens := v.Tokens()
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = "kw_" + tok
	}
	return out
}

// writeTo copies the incident-derived columns into the feature row x.
func (rec auxRecord) writeTo(x []float64) {
	x[ColHour] = float64(rec.hour)
	for c, code := range rec.codes {
		x[ColIncidentType+c] = float64(code)
	}
	x[ColResponseMinutes] = rec.response
	x[ColCluster] = float64(rec.cluster)
	x[ColCumulativeCount] = float64(rec.cumulative)
	copy(x[NumBaseColumns:], rec.keywords)
}

// latestBefore returns the last record dated strictly before day. recs is sorted by time.
func latestBefore(recs []auxRecord, day time.Time) (auxRecord, bool) {
	i := sort.Search(len(recs), func(i int) bool { return !recs[i].date.Before(day) })
	if i == 0 {
		return auxRecord{}, false
	}
	return recs[i-1], true
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
