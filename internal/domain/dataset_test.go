package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelEncoder(t *testing.T) {
	enc := FitLabelEncoder([]string{"室外", "室内", "室外", "", "室内"})

	assert.Equal(t, []string{"", "室内", "室外"}, enc.Classes())
	code, ok := enc.Encode("室外")
	require.True(t, ok)
	assert.Equal(t, 2, code)

	back, ok := enc.Decode(code)
	require.True(t, ok)
	assert.Equal(t, "室外", back)

	_, ok = enc.Encode("未知")
	assert.False(t, ok, "vocabulary is frozen after fit")
	_, ok = enc.Decode(3)
	assert.False(t, ok)
}

func TestFitKeywords(t *testing.T) {
	notes := []string{
		"电动车 起火，居民处置",
		"电动车 充电 起火",
		"垃圾 垃圾 a 垃圾",
		"",
	}

	v, err := FitKeywords(notes, 2, "")
	require.NoError(t, err)
	// 垃圾 x3, then 电动车 and 起火 tie at 2 and 电动车 sorts first.
	assert.Equal(t, []string{"垃圾", "电动车"}, v.Tokens())
	assert.Equal(t, []float64{2, 0}, v.Counts("垃圾 垃圾"))
	assert.Equal(t, []float64{0, 1}, v.Counts("电动车 火"), "single-character tokens are ignored")
}

func TestFitKeywords_TiesBrokenLexicographically(t *testing.T) {
	v, err := FitKeywords([]string{"乙乙 甲甲 丙丙"}, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"丙丙", "乙乙"}, v.Tokens())
}

func TestFitKeywords_BadPattern(t *testing.T) {
	_, err := FitKeywords([]string{"x"}, 3, "(")
	require.Error(t, err)
}

func TestKMeans_SeparatesGroups(t *testing.T) {
	var points []Point
	for i := range 20 {
		off := float64(i%5) * 0.001
		points = append(points, Point{Lat: 31.0 + off, Lon: 121.0 + off})
		points = append(points, Point{Lat: 31.5 + off, Lon: 121.5 - off})
	}

	labels, centroids, err := KMeans{K: 2, Restarts: 3, Seed: 42}.Fit(points)
	require.NoError(t, err)
	require.Len(t, centroids, 2)
	for i := 0; i < len(points); i += 2 {
		assert.Equal(t, labels[0], labels[i])
		assert.Equal(t, labels[1], labels[i+1])
	}
	assert.NotEqual(t, labels[0], labels[1])
}

func TestKMeans_Deterministic(t *testing.T) {
	points := []Point{{1, 1}, {1.1, 1}, {5, 5}, {5, 5.1}, {9, 1}, {9.2, 1.1}}
	l1, _, err := KMeans{K: 3, Restarts: 5, Seed: 1}.Fit(points)
	require.NoError(t, err)
	l2, _, err := KMeans{K: 3, Restarts: 5, Seed: 1}.Fit(points)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
}

func assembleScenario(t *testing.T, incidents []Incident) (*Dataset, *FeatureTable) {
	t.Helper()
	grid := testGrid(t)
	counts, err := Aggregate(incidents, grid)
	require.NoError(t, err)
	table, err := FeatureBuilder{Window: 7, Warmup: 7}.Build(context.Background(), counts, grid)
	require.NoError(t, err)
	ds, err := Assembler{KeywordCount: 10, Clusters: 2, Seed: 42, Logger: discardLogger()}.Assemble(incidents, table, grid)
	require.NoError(t, err)
	return ds, table
}

func TestAssemble_ColumnsAndShape(t *testing.T) {
	incidents := twoCellScenario()
	incidents[0].Note = "电动车起火"
	ds, table := assembleScenario(t, incidents)

	require.Len(t, ds.X, len(table.Rows))
	require.Len(t, ds.Y, len(table.Rows))
	assert.Equal(t, "lat_grid", ds.Columns[ColLatGrid])
	assert.Equal(t, "rolling_neighbor_count", ds.Columns[ColRollingNeighbor])
	assert.Equal(t, "cumulative_count", ds.Columns[ColCumulativeCount])
	assert.Equal(t, []string{"kw_电动车起火"}, ds.Columns[NumBaseColumns:])
	for i, x := range ds.X {
		assert.Len(t, x, len(ds.Columns))
		assert.Equal(t, table.Rows[i].Label, ds.Y[i])
	}
}

func TestAssemble_JoinsLatestPriorIncident(t *testing.T) {
	incidents := twoCellScenario()
	// Two earlier incidents in cell A; the later one must be joined.
	first := newIncident("2024-01-02 07:00", 0.005, 0.005)
	first.IncidentType, first.Station, first.ResponseMinutes = "垃圾", "一站", 3
	second := newIncident("2024-01-05 21:00", 0.004, 0.006)
	second.IncidentType, second.Station, second.ResponseMinutes = "电气", "二站", 9
	second.Note = "电动车起火"
	incidents = append(incidents, first, second)

	ds, table := assembleScenario(t, incidents)
	a := Cell{LatBin: 0, LonBin: 0}

	for i, r := range table.Rows {
		if r.Cell != a || !r.Date.Equal(day(2024, 1, 8)) {
			continue
		}
		x := ds.X[i]
		typeCode, _ := ds.Encoders["incident_type"].Encode("电气")
		assert.Equal(t, float64(typeCode), x[ColIncidentType])
		assert.Equal(t, 21.0, x[ColHour])
		assert.Equal(t, 9.0, x[ColResponseMinutes])
		assert.Equal(t, 2.0, x[ColCumulativeCount], "third incident of cell A in input order")
		assert.Equal(t, 1.0, x[ColMonth])
		assert.Equal(t, float64(Weekday(day(2024, 1, 8))), x[ColWeekday])
		assert.Equal(t, 1.0, x[NumBaseColumns+ds.Keywords.index["电动车起火"]])
		return
	}
	t.Fatal("row for cell A on day 8 not found")
}

func TestAssemble_SparseJoinGapDefaultsToZero(t *testing.T) {
	ds, table := assembleScenario(t, twoCellScenario())
	a := Cell{LatBin: 0, LonBin: 0}

	var found bool
	for i, r := range table.Rows {
		if r.Cell != a || !r.Date.Equal(day(2024, 1, 9)) {
			continue
		}
		found = true
		x := ds.X[i]
		for col := ColHour; col < len(x); col++ {
			if col == ColMonth || col == ColWeekday || col == ColIsWeekend {
				continue
			}
			assert.Zero(t, x[col], "column %s", ds.Columns[col])
		}
	}
	require.True(t, found)
	assert.Positive(t, ds.SparseJoinGaps)
}

func TestAssemble_UsesUpstreamClusters(t *testing.T) {
	incidents := twoCellScenario()
	for i := range incidents {
		incidents[i].Cluster = 5
	}
	ds, _ := assembleScenario(t, incidents)
	for i, m := range ds.Meta {
		if ds.X[i][ColCumulativeCount] > 0 || m.Hour > 0 {
			assert.Equal(t, 5, m.Cluster)
		}
	}
}

func TestAssemble_Empty(t *testing.T) {
	_, err := Assembler{}.Assemble(nil, &FeatureTable{}, testGrid(t))
	require.ErrorIs(t, err, ErrEmptyIncidentSet)
}
