// Package anomaly implements the unsupervised detector ensemble: two
// structurally different outlier scorers fused on percentile ranks.
package anomaly

import (
	"context"
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
)

// Scorer is one sub-model of the ensemble. Fit sees only the training window;
// Score may be called on any row afterwards. Higher raw scores mean more
// anomalous, whatever the sub-model's native scale.
type Scorer interface {
	Name() string
	Fit(ctx context.Context, rows [][]float64) error
	Score(row []float64) float64
}

// isoNode is one node of an isolation tree.
type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf population, used for path-length adjustment
}

// IsolationScorer isolates points with random axis-aligned partitions.
// Shorter average partitioning depth means higher anomaly.
type IsolationScorer struct {
	trees      int
	sampleSize int
	rng        *rand.Rand

	forest      []*isoNode
	heightLimit int
	cNorm       float64
}

// NewIsolationScorer creates an isolation scorer with a seeded RNG so fits
// are reproducible across runs.
func NewIsolationScorer(trees, sampleSize int, seed int64) *IsolationScorer {
	return &IsolationScorer{
		trees:      trees,
		sampleSize: sampleSize,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (s *IsolationScorer) Name() string { return "isolation" }

// Fit builds the forest on subsamples of the training rows.
func (s *IsolationScorer) Fit(ctx context.Context, rows [][]float64) error {
	if len(rows) < 2 {
		return eris.Errorf("anomaly: isolation fit needs >=2 rows (got %d)", len(rows))
	}
	if !hasVariance(rows) {
		return eris.New("anomaly: isolation fit: degenerate matrix with no variance")
	}

	sample := s.sampleSize
	if sample > len(rows) {
		sample = len(rows)
	}
	s.heightLimit = int(math.Ceil(math.Log2(float64(sample))))
	s.cNorm = avgPathLength(sample)
	s.forest = make([]*isoNode, 0, s.trees)

	for t := 0; t < s.trees; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := s.rng.Perm(len(rows))[:sample]
		subset := make([][]float64, sample)
		for i, j := range idx {
			subset[i] = rows[j]
		}
		s.forest = append(s.forest, s.grow(subset, 0))
	}

	return nil
}

// grow recursively partitions the subset on a random feature and split point.
func (s *IsolationScorer) grow(rows [][]float64, depth int) *isoNode {
	if depth >= s.heightLimit || len(rows) <= 1 {
		return &isoNode{size: len(rows)}
	}

	feature, lo, hi, ok := s.pickFeature(rows)
	if !ok {
		// All remaining features constant in this subset; cannot split further.
		return &isoNode{size: len(rows)}
	}

	split := lo + s.rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(rows)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    s.grow(left, depth+1),
		right:   s.grow(right, depth+1),
	}
}

// pickFeature chooses a random feature with spread in this subset. Up to a
// bounded number of redraws so degenerate subsets terminate.
func (s *IsolationScorer) pickFeature(rows [][]float64) (feature int, lo, hi float64, ok bool) {
	nFeatures := len(rows[0])
	for attempt := 0; attempt < nFeatures; attempt++ {
		f := s.rng.Intn(nFeatures)
		lo, hi = rows[0][f], rows[0][f]
		for _, row := range rows[1:] {
			if row[f] < lo {
				lo = row[f]
			}
			if row[f] > hi {
				hi = row[f]
			}
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// Score returns the isolation anomaly score in (0,1): 2^(-E[h(x)]/c(n)).
func (s *IsolationScorer) Score(row []float64) float64 {
	if len(s.forest) == 0 {
		return 0
	}
	var sum float64
	for _, root := range s.forest {
		sum += pathLength(root, row, 0)
	}
	mean := sum / float64(len(s.forest))
	return math.Pow(2, -mean/s.cNorm)
}

func pathLength(node *isoNode, row []float64, depth float64) float64 {
	if node.left == nil {
		return depth + avgPathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the average unsuccessful-search path length of a BST
// with n nodes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func hasVariance(rows [][]float64) bool {
	for f := range rows[0] {
		for _, row := range rows[1:] {
			if row[f] != rows[0][f] {
				return true
			}
		}
	}
	return false
}
