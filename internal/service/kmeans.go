package service

import (
	"math"
	"math/rand"
	"sort"
)

const (
	kmeansSeed     int64 = 42
	kmeansRestarts       = 10
	kmeansMaxIter        = 300
)

type point struct {
	x, y float64
}

type kmeansResult struct {
	assignments []int
	centroids   []point
	inertia     float64
}

// kmeans partitions points into k groups using k-means++ seeding and Lloyd
// iterations. Runs are deterministic for a given input order.
func kmeans(points []point, k int) kmeansResult {
	rng := rand.New(rand.NewSource(kmeansSeed))
	best := kmeansResult{inertia: math.Inf(1)}
	for run := 0; run < kmeansRestarts; run++ {
		result := lloyd(points, seedCentroids(points, k, rng))
		if result.inertia < best.inertia {
			best = result
		}
	}
	return best
}

func seedCentroids(points []point, k int, rng *rand.Rand) []point {
	centroids := make([]point, 0, k)
	centroids = append(centroids, points[rng.Intn(len(points))])
	distances := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			distances[i] = nearestDistance(p, centroids)
			total += distances[i]
		}
		if total == 0 {
			centroids = append(centroids, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		chosen := len(points) - 1
		for i, d := range distances {
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

func lloyd(points []point, centroids []point) kmeansResult {
	assignments := make([]int, len(points))
	for i := range assignments {
		assignments[i] = -1
	}
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, p := range points {
			c := nearestCentroid(p, centroids)
			if assignments[i] != c {
				assignments[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([]point, len(centroids))
		counts := make([]int, len(centroids))
		for i, p := range points {
			c := assignments[i]
			sums[c].x += p.x
			sums[c].y += p.y
			counts[c]++
		}
		for c := range centroids {
			// empty clusters keep their previous centroid
			if counts[c] > 0 {
				centroids[c] = point{x: sums[c].x / float64(counts[c]), y: sums[c].y / float64(counts[c])}
			}
		}
	}

	inertia := 0.0
	for i, p := range points {
		inertia += squaredDistance(p, centroids[assignments[i]])
	}
	return kmeansResult{assignments: assignments, centroids: centroids, inertia: inertia}
}

func nearestCentroid(p point, centroids []point) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func nearestDistance(p point, centroids []point) float64 {
	return squaredDistance(p, centroids[nearestCentroid(p, centroids)])
}

func squaredDistance(a, b point) float64 {
	dx, dy := a.x-b.x, a.y-b.y
	return dx*dx + dy*dy
}

func sortPoints(points []point) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].x != points[j].x {
			return points[i].x < points[j].x
		}
		return points[i].y < points[j].y
	})
}
