package clustering

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// KMeans partitions points into at most k clusters and returns one label per
// point, in input order. Centroids are seeded with k-means++ from seed, so the
// result is reproducible. When k exceeds the number of points it is reduced to
// that number. Labels are renumbered by first appearance: the first point is
// always in cluster 0.
func KMeans(points [][]float64, k, maxIter int, seed uint64) ([]int, error) {
	n := len(points)
	if n == 0 {
		return nil, fmt.Errorf("kmeans: no points")
	}
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", k)
	}
	if k > n {
		k = n
	}
	if maxIter <= 0 {
		maxIter = 300
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("kmeans: point %d has %d dimensions, want %d", i, len(p), dim)
		}
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := seedCentroids(points, k, rng)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	counts := make([]int, k)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range centroids {
			for j := range centroids[c] {
				centroids[c][j] = 0
			}
			counts[c] = 0
		}
		for i, p := range points {
			floats.Add(centroids[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), centroids[c])
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster on the point farthest from its centroid.
				far := farthest(points, labels, centroids)
				copy(centroids[c], points[far])
				labels[far] = c
			}
		}
	}

	return renumber(labels), nil
}

// seedCentroids picks k initial centroids with the k-means++ rule: each next
// centroid is drawn with probability proportional to its squared distance
// from the nearest centroid chosen so far.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(n)]))

	d2 := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := floats.Distance(p, centroids[nearest(p, centroids)], 2)
			d2[i] = d * d
			total += d2[i]
		}
		if total == 0 {
			// All remaining points coincide with a centroid; take them in order.
			centroids = append(centroids, clone(points[len(centroids)%n]))
			continue
		}
		target := rng.Float64() * total
		pick := n - 1
		for i, w := range d2 {
			target -= w
			if target <= 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(p, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthest(points [][]float64, labels []int, centroids [][]float64) int {
	best, bestDist := 0, -1.0
	for i, p := range points {
		if d := floats.Distance(p, centroids[labels[i]], 2); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func renumber(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		m, ok := mapping[l]
		if !ok {
			m = len(mapping)
			mapping[l] = m
		}
		out[i] = m
	}
	return out
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
