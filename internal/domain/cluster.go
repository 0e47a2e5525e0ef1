package domain

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Point is a raw (lat, lon) coordinate pair.
type Point struct {
	Lat, Lon float64
}

// KMeans partitions points into K groups with Lloyd's algorithm and k-means++ seeding.
// The best of Restarts runs by inertia is kept.
type KMeans struct {
	K        int
	Restarts int
	MaxIter  int
	Seed     uint64
}

// Fit returns the cluster label of every point and the final centroids.
func (km KMeans) Fit(points []Point) ([]int, []Point, error) {
	if km.K < 1 {
		return nil, nil, fmt.Errorf("k-means needs k >= 1, got %d", km.K)
	}
	if len(points) == 0 {
		return nil, nil, fmt.Errorf("k-means: %w", ErrEmptyIncidentSet)
	}
	k := min(km.K, len(points))
	restarts := max(km.Restarts, 1)
	maxIter := km.MaxIter
	if maxIter <= 0 {
		maxIter = 300
	}

	rng := rand.New(rand.NewPCG(km.Seed, km.Seed^0x9e3779b97f4a7c15))
	var (
		bestLabels    []int
		bestCentroids []Point
		bestInertia   = math.Inf(1)
	)
	for range restarts {
		centroids := seedPlusPlus(points, k, rng)
		labels, inertia := lloyd(points, centroids, maxIter)
		if inertia < bestInertia {
			bestLabels, bestCentroids, bestInertia = labels, centroids, inertia
		}
	}
	return bestLabels, bestCentroids, nil
}

func seedPlusPlus(points []Point, k int, rng *rand.Rand) []Point {
	centroids := make([]Point, 0, k)
	centroids = append(centroids, points[rng.IntN(len(points))])
	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, sqDist(p, c))
			}
			dist[i] = d
			total += d
		}
		if total == 0 {
			centroids = append(centroids, points[rng.IntN(len(points))])
			continue
		}
		target := rng.Float64() * total
		chosen := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				chosen = i
				break
			}
		}
		centroids = append(centroids, points[chosen])
	}
	return centroids
}

func lloyd(points []Point, centroids []Point, maxIter int) ([]int, float64) {
	labels := make([]int, len(points))
	sums := make([]Point, len(centroids))
	sizes := make([]int, len(centroids))
	var inertia float64

	for iter := 0; iter < maxIter; iter++ {
		changed := iter == 0
		inertia = 0
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c, ctr := range centroids {
				if d := sqDist(p, ctr); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
			inertia += bestD
		}
		if !changed {
			break
		}

		clear(sums)
		clear(sizes)
		for i, p := range points {
			sums[labels[i]].Lat += p.Lat
			sums[labels[i]].Lon += p.Lon
			sizes[labels[i]]++
		}
		for c := range centroids {
			if sizes[c] == 0 {
				continue
			}
			centroids[c] = Point{Lat: sums[c].Lat / float64(sizes[c]), Lon: sums[c].Lon / float64(sizes[c])}
		}
	}
	return labels, inertia
}

func sqDist(a, b Point) float64 {
	dl, dn := a.Lat-b.Lat, a.Lon-b.Lon
	return dl*dl + dn*dn
}
