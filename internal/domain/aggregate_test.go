package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	grid := testGrid(t)
	incidents := []Incident{
		newIncident("2024-03-02 08:15", 0.005, 0.005),
		newIncident("2024-03-02 23:59", 0.006, 0.004),
		newIncident("2024-03-01 10:00", 0.005, 0.015),
		newIncident("2024-03-03 00:01", 0.005, 0.005),
	}

	counts, err := Aggregate(incidents, grid)
	require.NoError(t, err)

	a := Cell{LatBin: 0, LonBin: 0}
	b := Cell{LatBin: 0, LonBin: 1}
	assert.Equal(t, 2, counts.Count(a, day(2024, 3, 2)))
	assert.Equal(t, 1, counts.Count(a, day(2024, 3, 3)))
	assert.Equal(t, 1, counts.Count(b, day(2024, 3, 1)))
	assert.Equal(t, 0, counts.Count(b, day(2024, 3, 2)), "absent pairs are zero")
	assert.Equal(t, 3, counts.Len())

	assert.Equal(t, []time.Time{day(2024, 3, 1), day(2024, 3, 2), day(2024, 3, 3)}, counts.Dates())
	assert.Equal(t, []Cell{a, b}, counts.Cells())
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil, testGrid(t))
	require.ErrorIs(t, err, ErrEmptyIncidentSet)
	assert.ErrorIs(t, err, ErrMalformedInput)
}
