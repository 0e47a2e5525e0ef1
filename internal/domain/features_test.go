package domain

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(t *testing.T) Grid {
	t.Helper()
	g, err := NewGrid(DefaultCellSize, DefaultCellSize)
	require.NoError(t, err)
	return g
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newIncident(ts string, lat, lon float64) Incident {
	opened, err := time.Parse("2006-01-02 15:04", ts)
	if err != nil {
		panic(err)
	}
	return Incident{ID: ts, OpenedAt: opened, Lat: lat, Lon: lon, Cluster: NoCluster}
}

func findRow(t *testing.T, table *FeatureTable, c Cell, d time.Time) FeatureRow {
	t.Helper()
	for _, r := range table.Rows {
		if r.Cell == c && r.Date.Equal(d) {
			return r
		}
	}
	t.Fatalf("no feature row for %s on %s", c, d.Format(time.DateOnly))
	return FeatureRow{}
}

// twoCellScenario: cells A=(0,0) and B=(0,1) each have one incident on day 9; a far
// cell C has an incident every day so that days 1..10 are all distinct dates.
func twoCellScenario() []Incident {
	var incidents []Incident
	for d := 1; d <= 10; d++ {
		incidents = append(incidents, newIncident(day(2024, 1, d).Format("2006-01-02")+" 09:00", 1.005, 1.005))
	}
	incidents = append(incidents,
		newIncident("2024-01-09 14:00", 0.005, 0.005),
		newIncident("2024-01-09 16:30", 0.005, 0.015),
	)
	return incidents
}

func buildTable(t *testing.T, incidents []Incident, b FeatureBuilder) *FeatureTable {
	t.Helper()
	grid := testGrid(t)
	counts, err := Aggregate(incidents, grid)
	require.NoError(t, err)
	table, err := b.Build(context.Background(), counts, grid)
	require.NoError(t, err)
	return table
}

func TestFeatureBuilder_TwoCellScenario(t *testing.T) {
	table := buildTable(t, twoCellScenario(), FeatureBuilder{Window: 7, Warmup: 7, Workers: 2})
	a := Cell{LatBin: 0, LonBin: 0}

	day9 := findRow(t, table, a, day(2024, 1, 9))
	assert.Equal(t, 0, day9.RollingSelf, "window excludes the target day")
	assert.Equal(t, 0, day9.RollingNeighbor)
	assert.Equal(t, 1, day9.Label)

	day10 := findRow(t, table, a, day(2024, 1, 10))
	assert.Equal(t, 1, day10.RollingSelf)
	assert.Equal(t, 2, day10.RollingNeighbor, "self and neighbor B both count")
	assert.Equal(t, 0, day10.Label)
}

func TestFeatureBuilder_WarmupBoundary(t *testing.T) {
	table := buildTable(t, twoCellScenario(), FeatureBuilder{Window: 7, Warmup: 7})

	require.Equal(t, []time.Time{day(2024, 1, 8), day(2024, 1, 9), day(2024, 1, 10)}, table.Dates)
	assert.Len(t, table.Rows, 3*3, "every observed cell on every target date")
	for _, r := range table.Rows {
		assert.False(t, r.Date.Before(day(2024, 1, 8)), "row before warmup boundary: %v", r.Date)
	}

	// Cell A is first seen on day 9 but still has a row on day 8.
	day8 := findRow(t, table, Cell{LatBin: 0, LonBin: 0}, day(2024, 1, 8))
	assert.Zero(t, day8.RollingSelf)
	assert.Zero(t, day8.Label)
}

func TestFeatureBuilder_WarmupCountsDistinctDates(t *testing.T) {
	// Eight distinct dates spread over a month: the warmup skips seven dates, not seven days.
	var incidents []Incident
	for _, d := range []int{1, 3, 6, 10, 15, 21, 28, 30} {
		incidents = append(incidents, newIncident(day(2024, 5, d).Format("2006-01-02")+" 12:00", 0.005, 0.005))
	}
	table := buildTable(t, incidents, FeatureBuilder{Window: 7, Warmup: 7})

	require.Equal(t, []time.Time{day(2024, 5, 30)}, table.Dates)
	row := table.Rows[0]
	assert.Equal(t, 1, row.RollingSelf, "only May 28 falls in [May 23, May 30)")
	assert.Equal(t, 1, row.Label)
}

func TestFeatureBuilder_TooFewDates(t *testing.T) {
	incidents := []Incident{newIncident("2024-01-01 10:00", 0.005, 0.005)}
	table := buildTable(t, incidents, FeatureBuilder{Window: 7, Warmup: 7})
	assert.Empty(t, table.Rows)
	assert.Len(t, table.Cells, 1)
}

func TestFeatureBuilder_InvalidWindow(t *testing.T) {
	grid := testGrid(t)
	counts, err := Aggregate(twoCellScenario(), grid)
	require.NoError(t, err)

	_, err = FeatureBuilder{Window: 0, Warmup: 7}.Build(context.Background(), counts, grid)
	require.Error(t, err)
}

func TestFeatureBuilder_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	start := day(2023, 6, 1)
	var incidents []Incident
	for range 600 {
		ts := start.AddDate(0, 0, rng.IntN(60)).Add(time.Duration(rng.IntN(24*60)) * time.Minute)
		lat := 31.20 + rng.Float64()*0.06
		lon := 121.40 + rng.Float64()*0.06
		incidents = append(incidents, Incident{ID: ts.String(), OpenedAt: ts, Lat: lat, Lon: lon, Cluster: NoCluster})
	}

	grid := testGrid(t)
	counts, err := Aggregate(incidents, grid)
	require.NoError(t, err)
	const window = 7
	table, err := FeatureBuilder{Window: window, Warmup: 7, Workers: 4}.Build(context.Background(), counts, grid)
	require.NoError(t, err)
	require.NotEmpty(t, table.Rows)

	for _, r := range table.Rows {
		self, neighborhood := 0, 0
		for back := 1; back <= window; back++ {
			d := r.Date.AddDate(0, 0, -back)
			self += counts.Count(r.Cell, d)
			for _, n := range grid.Neighbors(r.Cell) {
				neighborhood += counts.Count(n, d)
			}
		}
		require.Equal(t, self, r.RollingSelf, "self %s %s", r.Cell, r.Date)
		require.Equal(t, neighborhood, r.RollingNeighbor, "neighbor %s %s", r.Cell, r.Date)
		require.GreaterOrEqual(t, r.RollingNeighbor, r.RollingSelf)

		wantLabel := 0
		if counts.Count(r.Cell, r.Date) > 0 {
			wantLabel = 1
		}
		require.Equal(t, wantLabel, r.Label)
		require.Equal(t, Weekday(r.Date), r.Weekday)
	}
}

func TestFeatureBuilder_NoLeakageFromTargetDay(t *testing.T) {
	base := twoCellScenario()
	extra := append(append([]Incident{}, base...),
		newIncident("2024-01-10 08:00", 0.005, 0.005),
		newIncident("2024-01-10 09:00", 0.005, 0.005),
	)

	before := buildTable(t, base, FeatureBuilder{Window: 7, Warmup: 7})
	after := buildTable(t, extra, FeatureBuilder{Window: 7, Warmup: 7})

	a := Cell{LatBin: 0, LonBin: 0}
	rb := findRow(t, before, a, day(2024, 1, 10))
	ra := findRow(t, after, a, day(2024, 1, 10))
	assert.Equal(t, rb.RollingSelf, ra.RollingSelf)
	assert.Equal(t, rb.RollingNeighbor, ra.RollingNeighbor)
	assert.Equal(t, 0, rb.Label)
	assert.Equal(t, 1, ra.Label)
}
