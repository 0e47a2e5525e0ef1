package domain

import (
	"slices"
	"time"
)

// CellDay keys the sparse grid-day table.
type CellDay struct {
	Cell Cell
	Date time.Time
}

// GridDayCounts is the sparse (cell, date) -> incident count table. Only positive counts
// are stored. It is a snapshot and is never mutated after Aggregate returns.
type GridDayCounts struct {
	counts map[CellDay]int
	dates  []time.Time
	cells  []Cell
}

// Aggregate groups incidents by cell and calendar date.
func Aggregate(incidents []Incident, grid Grid) (*GridDayCounts, error) {
	if len(incidents) == 0 {
		return nil, ErrEmptyIncidentSet
	}

	g := &GridDayCounts{counts: make(map[CellDay]int)}
	seenDates := make(map[time.Time]struct{})
	seenCells := make(map[Cell]struct{})

	for _, inc := range incidents {
		cell := grid.Bin(inc.Lat, inc.Lon)
		date := inc.Date()
		g.counts[CellDay{Cell: cell, Date: date}]++

		if _, ok := seenDates[date]; !ok {
			seenDates[date] = struct{}{}
			g.dates = append(g.dates, date)
		}
		if _, ok := seenCells[cell]; !ok {
			seenCells[cell] = struct{}{}
			g.cells = append(g.cells, cell)
		}
	}

	slices.SortFunc(g.dates, func(a, b time.Time) int { return a.Compare(b) })
	slices.SortFunc(g.cells, compareCells)
	return g, nil
}

// Count returns the number of incidents in cell on date; absent pairs are 0.
func (g *GridDayCounts) Count(cell Cell, date time.Time) int {
	return g.counts[CellDay{Cell: cell, Date: CalendarDate(date)}]
}

// Dates returns the distinct incident dates in ascending order.
func (g *GridDayCounts) Dates() []time.Time { return g.dates }

// Cells returns every cell that ever had an incident, ordered by (lat bin, lon bin).
func (g *GridDayCounts) Cells() []Cell { return g.cells }

// Len returns the number of non-zero (cell, date) entries.
func (g *GridDayCounts) Len() int { return len(g.counts) }

// Each calls fn for every non-zero entry in unspecified order.
func (g *GridDayCounts) Each(fn func(key CellDay, count int)) {
	for k, v := range g.counts {
		fn(k, v)
	}
}

func compareCells(a, b Cell) int {
	if a.LatBin != b.LatBin {
		return a.LatBin - b.LatBin
	}
	return a.LonBin - b.LonBin
}
