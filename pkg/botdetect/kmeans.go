package botdetect

import (
	"math"
	"math/rand/v2"
)

const (
	MaxClusters = 8
	kmeansIters = 300
	kmeansInits = 10
	kmeansTol   = 1e-4
)

// KMeans holds fitted cluster centers in scaled space.
type KMeans struct {
	Centers [][]float64
}

// FitKMeans clusters rows into k groups with k-means++ seeding, keeping the best of
// several restarts by inertia.
func FitKMeans(rows [][]float64, k int, rng *rand.Rand) KMeans {
	k = min(k, len(rows))
	if k == 0 {
		return KMeans{}
	}

	var best KMeans
	bestInertia := math.Inf(1)
	for range kmeansInits {
		centers := lloyd(rows, seedCenters(rows, k, rng))
		model := KMeans{Centers: centers}
		if inertia := model.inertia(rows); inertia < bestInertia {
			best, bestInertia = model, inertia
		}
	}
	return best
}

func seedCenters(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(rows[rng.IntN(len(rows))]))

	dist := make([]float64, len(rows))
	for len(centers) < k {
		total := 0.0
		for i, row := range rows {
			d := math.Inf(1)
			for _, c := range centers {
				d = math.Min(d, sqDist(row, c))
			}
			dist[i] = d
			total += d
		}

		// Every row already sits on a center.
		if total == 0 {
			centers = append(centers, clone(rows[rng.IntN(len(rows))]))
			continue
		}

		target := rng.Float64() * total
		pick := len(rows) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		centers = append(centers, clone(rows[pick]))
	}
	return centers
}

func lloyd(rows [][]float64, centers [][]float64) [][]float64 {
	dims := len(rows[0])
	for range kmeansIters {
		sums := make([][]float64, len(centers))
		counts := make([]int, len(centers))
		for c := range sums {
			sums[c] = make([]float64, dims)
		}

		for _, row := range rows {
			c, _ := nearest(centers, row)
			counts[c]++
			for j, v := range row {
				sums[c][j] += v
			}
		}

		shift := 0.0
		for c := range centers {
			// An empty cluster keeps its previous center.
			if counts[c] == 0 {
				continue
			}
			next := make([]float64, dims)
			for j := range next {
				next[j] = sums[c][j] / float64(counts[c])
			}
			shift += sqDist(next, centers[c])
			centers[c] = next
		}
		if shift <= kmeansTol*kmeansTol {
			break
		}
	}
	return centers
}

func (m KMeans) inertia(rows [][]float64) float64 {
	total := 0.0
	for _, row := range rows {
		_, d := nearest(m.Centers, row)
		total += d
	}
	return total
}

// Predict returns the nearest cluster and the confidence 1 - min/max distance.
func (m KMeans) Predict(v []float64) (int, float64) {
	if len(m.Centers) == 0 {
		return -1, 0
	}

	cluster, minD := 0, math.Inf(1)
	maxD := 0.0
	for c, center := range m.Centers {
		d := math.Sqrt(sqDist(v, center))
		if d < minD {
			cluster, minD = c, d
		}
		maxD = math.Max(maxD, d)
	}
	if maxD == 0 {
		return cluster, 1
	}
	return cluster, 1 - minD/maxD
}

// Assign returns the nearest cluster of every row.
func (m KMeans) Assign(rows [][]float64) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		out[i], _ = nearest(m.Centers, row)
	}
	return out
}

func nearest(centers [][]float64, v []float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDist(v, center); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
