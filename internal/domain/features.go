package domain

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// FeatureRow holds the history features and same-day label for one (cell, date).
type FeatureRow struct {
	Cell            Cell      `json:"cell"`
	Date            time.Time `json:"date"`
	RollingSelf     int       `json:"rolling_self_count"`
	RollingNeighbor int       `json:"rolling_neighbor_count"`
	Weekday         int       `json:"weekday"`
	Label           int       `json:"label"`
}

// FeatureTable is the FeatureBuilder output. Rows are ordered by date, then by cell in
// the order of Cells.
type FeatureTable struct {
	Rows  []FeatureRow
	Cells []Cell
	Dates []time.Time
}

// FeatureBuilder computes rolling self and neighborhood counts over a trailing window.
type FeatureBuilder struct {
	// Window is the trailing window length in calendar days.
	Window int
	// Warmup is the number of leading distinct dates that never produce rows.
	Warmup int
	// Workers bounds the goroutines computing rows; 0 means GOMAXPROCS.
	Workers int
}

// Build materializes one FeatureRow per observed cell for every distinct date after the
// warmup boundary. The window for date d is [d-Window, d), so no row sees its own day.
func (b FeatureBuilder) Build(ctx context.Context, counts *GridDayCounts, grid Grid) (*FeatureTable, error) {
	if b.Window < 1 {
		return nil, fmt.Errorf("feature window must be positive, got %d", b.Window)
	}
	if b.Warmup < 0 {
		return nil, fmt.Errorf("feature warmup must not be negative, got %d", b.Warmup)
	}

	cells := counts.Cells()
	dates := counts.Dates()
	table := &FeatureTable{Cells: cells}
	if len(dates) <= b.Warmup {
		return table, nil
	}
	table.Dates = dates[b.Warmup:]

	idx := newCellIndex(counts, grid)
	table.Rows = make([]FeatureRow, len(table.Dates)*len(cells))

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for di, date := range table.Dates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			end := idx.offset(date)
			weekday := Weekday(date)
			base := di * len(cells)
			for id, cell := range cells {
				self := idx.windowSum(id, end, b.Window)
				neighborhood := 0
				for _, nid := range idx.neighbors[id] {
					neighborhood += idx.windowSum(nid, end, b.Window)
				}
				label := 0
				if idx.dayCount(id, end) > 0 {
					label = 1
				}
				table.Rows[base+id] = FeatureRow{
					Cell:            cell,
					Date:            date,
					RollingSelf:     self,
					RollingNeighbor: neighborhood,
					Weekday:         weekday,
					Label:           label,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}
	return table, nil
}

// cellIndex is the arena behind Build: dense cell ids, a per-cell prefix sum over
// calendar-day offsets from the first date, and the neighbor ids of each cell. Read-only
// once built.
type cellIndex struct {
	start     time.Time
	span      int
	prefix    [][]int // prefix[id][k] = incidents in days [0, k)
	neighbors [][]int
}

func newCellIndex(counts *GridDayCounts, grid Grid) *cellIndex {
	cells := counts.Cells()
	dates := counts.Dates()
	idx := &cellIndex{
		start:     dates[0],
		span:      DaysBetween(dates[0], dates[len(dates)-1]) + 1,
		prefix:    make([][]int, len(cells)),
		neighbors: make([][]int, len(cells)),
	}

	ids := make(map[Cell]int, len(cells))
	for id, c := range cells {
		ids[c] = id
	}

	daily := make([][]int, len(cells))
	for id := range cells {
		daily[id] = make([]int, idx.span)
	}
	counts.Each(func(key CellDay, n int) {
		daily[ids[key.Cell]][idx.offset(key.Date)] += n
	})

	for id, c := range cells {
		p := make([]int, idx.span+1)
		for k, n := range daily[id] {
			p[k+1] = p[k] + n
		}
		idx.prefix[id] = p

		for _, nc := range grid.Neighbors(c) {
			if nid, ok := ids[nc]; ok {
				idx.neighbors[id] = append(idx.neighbors[id], nid)
			}
		}
	}
	return idx
}

func (x *cellIndex) offset(date time.Time) int {
	return DaysBetween(x.start, date)
}

// windowSum returns the incidents of cell id over day offsets [end-w, end).
func (x *cellIndex) windowSum(id, end, w int) int {
	lo := max(end-w, 0)
	hi := min(end, x.span)
	if hi <= lo {
		return 0
	}
	return x.prefix[id][hi] - x.prefix[id][lo]
}

func (x *cellIndex) dayCount(id, day int) int {
	if day < 0 || day >= x.span {
		return 0
	}
	return x.prefix[id][day+1] - x.prefix[id][day]
}
