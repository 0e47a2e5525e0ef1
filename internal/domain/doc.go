// Package domain models incident records and the space-time features built from them.
//
// # Grid
//
// Coordinates are binned into square cells of a fixed size in degrees (0.01 by default):
//
//	cell = (floor(lat / size), floor(lon / size))
//
// Two incidents share a cell iff both bins are equal. The neighborhood of a cell is the
// (2r+1)x(2r+1) block around it, the cell itself included, where r is the configured
// neighbor radius in grid steps (1 by default, so a 3x3 block).
//
// # Grid-day table
//
// [Aggregate] counts incidents per (cell, calendar date). Only positive counts are
// stored; every other pair is implicitly zero. The table is rebuilt from the full
// incident set on every run and never updated in place.
//
// # Feature rows
//
// [FeatureBuilder] emits a row for every historically observed cell on every distinct
// date after the first Warmup distinct dates. The warmup boundary is global: it counts
// distinct dates in the data, not days of history per cell. A cell first seen after the
// boundary still gets rows, with zero rolling counts until it has history.
//
// For a row (cell, d) with window W:
//
//	rolling_self_count     = sum of count(cell, t)     for t in [d-W, d)
//	rolling_neighbor_count = sum of count(n, t)        for n in neighborhood(cell), same t
//	label                  = 1 if count(cell, d) > 0
//
// The window excludes d, so the rolling counts never see the day being labelled.
//
// # Dataset
//
// [Assembler] joins each feature row with the latest incident of its cell dated strictly
// before the row's date, adding label-encoded categories, note keyword counts, a spatial
// cluster id, the per-cell cumulative incident count and the response time. Rows without
// such an incident keep zeros in those columns.
//
// # Forecast
//
// [Forecaster] copies each cell's last known row, rewrites the calendar columns for each
// of the next Horizon days and scores it. Rolling counts are carried forward unchanged.
package domain
