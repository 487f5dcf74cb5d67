package botdetect

import (
	"math"
	"math/rand/v2"
	"sort"
)

const (
	ForestTrees      = 100
	ForestMaxSamples = 256
	Contamination    = 0.10
)

// node is one flattened tree node. Leaves have Feature -1.
type node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Size      int
}

type tree struct {
	Nodes []node
}

// IsolationForest scores how easily a vector is isolated by random splits.
type IsolationForest struct {
	Trees      []tree
	SampleSize int
	// Offset shifts raw scores so that the contamination share of the training set
	// falls below zero.
	Offset float64
}

// FitIsolationForest grows the forest and calibrates its offset on rows.
func FitIsolationForest(rows [][]float64, rng *rand.Rand) IsolationForest {
	f := IsolationForest{SampleSize: min(ForestMaxSamples, len(rows))}
	if f.SampleSize == 0 {
		return f
	}

	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(f.SampleSize), 2))))
	for range ForestTrees {
		idx := rng.Perm(len(rows))[:f.SampleSize]
		sample := make([][]float64, len(idx))
		for i, j := range idx {
			sample[i] = rows[j]
		}

		var t tree
		t.grow(sample, 0, maxDepth, rng)
		f.Trees = append(f.Trees, t)
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.ScoreSamples(row)
	}
	f.Offset = percentile(scores, 100*Contamination)
	return f
}

// grow appends the subtree over rows and returns the index of its root.
func (t *tree) grow(rows [][]float64, depth, maxDepth int, rng *rand.Rand) int32 {
	at := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, node{Feature: -1, Size: len(rows)})
	if depth >= maxDepth || len(rows) <= 1 {
		return at
	}

	dims := len(rows[0])
	for _, feature := range rng.Perm(dims) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range rows {
			lo = math.Min(lo, row[feature])
			hi = math.Max(hi, row[feature])
		}
		if lo == hi {
			continue
		}

		threshold := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range rows {
			if row[feature] < threshold {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		// A draw at exactly lo leaves one side empty; retry on the next feature.
		if len(left) == 0 || len(right) == 0 {
			continue
		}

		l := t.grow(left, depth+1, maxDepth, rng)
		r := t.grow(right, depth+1, maxDepth, rng)
		t.Nodes[at].Feature = feature
		t.Nodes[at].Threshold = threshold
		t.Nodes[at].Left = l
		t.Nodes[at].Right = r
		return at
	}
	return at
}

func (t tree) pathLength(v []float64) float64 {
	i, depth := int32(0), 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return float64(depth) + averagePath(n.Size)
		}
		if v[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePath is the mean unsuccessful search length in a binary search tree of n nodes.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

// ScoreSamples is the negated anomaly score in [-1, 0]. Lower is more anomalous.
func (f IsolationForest) ScoreSamples(v []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.pathLength(v)
	}
	mean := sum / float64(len(f.Trees))

	c := averagePath(f.SampleSize)
	if c == 0 {
		return -1
	}
	return -math.Pow(2, -mean/c)
}

// Decision is the offset score. Negative values are anomalies.
func (f IsolationForest) Decision(v []float64) float64 {
	return f.ScoreSamples(v) - f.Offset
}

// Predict returns -1 for anomalies and 1 for normal vectors, with the decision score.
func (f IsolationForest) Predict(v []float64) (int, float64) {
	d := f.Decision(v)
	if d < 0 {
		return -1, d
	}
	return 1, d
}

// AnomalyProbability maps a decision score onto [0, 1].
func AnomalyProbability(decision float64) float64 {
	return clamp01((-decision - 0.05) / 0.30)
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}
