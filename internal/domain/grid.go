package domain

import (
	"fmt"
	"math"
)

// DefaultCellSize is the bin width in degrees for both axes.
const DefaultCellSize = 0.01

// Cell is a grid cell identified by its integer bin on each axis.
type Cell struct {
	LatBin int `json:"lat_bin"`
	LonBin int `json:"lon_bin"`
}

func (c Cell) String() string {
	return fmt.Sprintf("%d:%d", c.LatBin, c.LonBin)
}

// Grid bins coordinates into fixed-size cells and answers fixed-radius neighbor queries.
type Grid struct {
	size   float64
	radius int
}

// NewGrid builds a grid with the given cell size and neighbor radius, both in degrees.
// The radius must be a positive whole multiple of the cell size.
func NewGrid(cellSize, neighborRadius float64) (Grid, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return Grid{}, fmt.Errorf("cell size must be positive, got %v", cellSize)
	}
	steps := neighborRadius / cellSize
	r := math.Round(steps)
	if r < 1 || math.Abs(steps-r) > 1e-6 {
		return Grid{}, fmt.Errorf("neighbor radius %v is not a positive multiple of cell size %v", neighborRadius, cellSize)
	}
	return Grid{size: cellSize, radius: int(r)}, nil
}

// CellSize returns the bin width in degrees.
func (g Grid) CellSize() float64 { return g.size }

// Radius returns the neighbor radius in grid steps.
func (g Grid) Radius() int { return g.radius }

// Bin maps a coordinate to its cell by floor division.
func (g Grid) Bin(lat, lon float64) Cell {
	return Cell{
		LatBin: int(math.Floor(lat / g.size)),
		LonBin: int(math.Floor(lon / g.size)),
	}
}

// Origin returns the south-west corner of the cell in degrees.
func (g Grid) Origin(c Cell) (lat, lon float64) {
	return float64(c.LatBin) * g.size, float64(c.LonBin) * g.size
}

// Neighbors returns the (2r+1)x(2r+1) block of cells around c, c included.
func (g Grid) Neighbors(c Cell) []Cell {
	out := make([]Cell, 0, (2*g.radius+1)*(2*g.radius+1))
	for di := -g.radius; di <= g.radius; di++ {
		for dj := -g.radius; dj <= g.radius; dj++ {
			out = append(out, Cell{LatBin: c.LatBin + di, LonBin: c.LonBin + dj})
		}
	}
	return out
}
