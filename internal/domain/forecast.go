package domain

import (
	"fmt"
	"slices"
	"time"
)

// Scorer returns the positive-class probability of each raw (unscaled) feature row.
type Scorer interface {
	PredictProba(rows [][]float64) []float64
}

// ForecastRow is the predicted incident probability of a cell on a future day.
type ForecastRow struct {
	Cell        Cell      `json:"cell"`
	LatGrid     float64   `json:"lat_grid"`
	LonGrid     float64   `json:"lon_grid"`
	Date        time.Time `json:"date"`
	Hour        int       `json:"hour"`
	Month       int       `json:"month"`
	Weekday     int       `json:"weekday"`
	Probability float64   `json:"probability"`
}

// LastKnownState maps each cell to its most recent dataset row. Built once, read-only.
type LastKnownState map[Cell]int

// NewLastKnownState indexes the latest row per cell by date.
func NewLastKnownState(ds *Dataset) LastKnownState {
	state := make(LastKnownState)
	for i, m := range ds.Meta {
		if j, ok := state[m.Cell]; !ok || !m.Date.Before(ds.Meta[j].Date) {
			state[m.Cell] = i
		}
	}
	return state
}

// Forecaster scores carried-forward feature rows for the days following today.
type Forecaster struct {
	// Horizon is the number of future days, starting tomorrow.
	Horizon int
	// Hour is the representative hour written into every forecast row.
	Hour int
}

// Days returns the forecast dates: today+1 through today+Horizon.
func (f Forecaster) Days() []time.Time {
	today := Today()
	days := make([]time.Time, f.Horizon)
	for i := range days {
		days[i] = today.AddDate(0, 0, i+1)
	}
	return days
}

// Forecast builds one row per cell per forecast day. Rolling counts are copied from the
// cell's last known row; incident-derived fields come from the cell's latest incident
// overall, since every incident precedes every forecast day. Only calendar fields change
// across the horizon. Cells without a materialized row start from an all-zero row.
func (f Forecaster) Forecast(ds *Dataset, cells []Cell, grid Grid, scorer Scorer) ([]ForecastRow, error) {
	if f.Horizon < 1 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", f.Horizon)
	}
	state := NewLastKnownState(ds)
	days := f.Days()

	rows := make([]ForecastRow, 0, len(days)*len(cells))
	xs := make([][]float64, 0, len(days)*len(cells))
	for _, day := range days {
		weekday := Weekday(day)
		month := int(day.Month())
		for _, cell := range cells {
			var x []float64
			if i, ok := state[cell]; ok {
				x = slices.Clone(ds.X[i])
			} else {
				x = make([]float64, len(ds.Columns))
			}
			if rec, ok := ds.latest[cell]; ok {
				rec.writeTo(x)
			}
			latGrid, lonGrid := grid.Origin(cell)
			x[ColLatGrid] = latGrid
			x[ColLonGrid] = lonGrid
			x[ColHour] = float64(f.Hour)
			x[ColMonth] = float64(month)
			x[ColWeekday] = float64(weekday)
			x[ColIsWeekend] = boolFloat(IsWeekend(weekday))

			xs = append(xs, x)
			rows = append(rows, ForecastRow{
				Cell:    cell,
				LatGrid: latGrid,
				LonGrid: lonGrid,
				Date:    day,
				Hour:    f.Hour,
				Month:   month,
				Weekday: weekday,
			})
		}
	}

	if len(xs) == 0 {
		return rows, nil
	}
	proba := scorer.PredictProba(xs)
	if len(proba) != len(rows) {
		return nil, fmt.Errorf("scorer returned %d probabilities for %d rows", len(proba), len(rows))
	}
	for i := range rows {
		rows[i].Probability = proba[i]
	}
	return rows, nil
}
