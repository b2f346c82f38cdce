package anomaly

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
)

// DensityScorer scores rows by per-feature empirical density: values landing
// in low-density histogram bins accumulate a higher anomaly score. Each
// feature contributes -log(density), summed over features (HBOS style).
type DensityScorer struct {
	bins int

	lo, hi []float64   // per-feature fit range
	hist   [][]float64 // per-feature bin densities
}

// NewDensityScorer creates a density scorer with the given bin count.
func NewDensityScorer(bins int) *DensityScorer {
	return &DensityScorer{bins: bins}
}

func (s *DensityScorer) Name() string { return "density" }

// Fit estimates per-feature histograms from the training rows.
func (s *DensityScorer) Fit(ctx context.Context, rows [][]float64) error {
	if len(rows) < 2 {
		return eris.Errorf("anomaly: density fit needs >=2 rows (got %d)", len(rows))
	}
	if s.bins < 2 {
		return eris.Errorf("anomaly: density fit needs >=2 bins (got %d)", s.bins)
	}

	nFeatures := len(rows[0])
	s.lo = make([]float64, nFeatures)
	s.hi = make([]float64, nFeatures)
	s.hist = make([][]float64, nFeatures)

	anySpread := false
	for f := 0; f < nFeatures; f++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lo, hi := rows[0][f], rows[0][f]
		for _, row := range rows {
			if row[f] < lo {
				lo = row[f]
			}
			if row[f] > hi {
				hi = row[f]
			}
		}
		s.lo[f], s.hi[f] = lo, hi

		counts := make([]float64, s.bins)
		for _, row := range rows {
			counts[s.binIndex(f, row[f])]++
		}
		for b := range counts {
			counts[b] /= float64(len(rows))
		}
		s.hist[f] = counts
		if hi > lo {
			anySpread = true
		}
	}
	if !anySpread {
		return eris.New("anomaly: density fit: degenerate matrix with no variance")
	}

	return nil
}

// Score sums negative log densities over features. Values outside the fit
// range fall into the nearest edge bin, so later-window rows remain scorable.
func (s *DensityScorer) Score(row []float64) float64 {
	const eps = 1e-9
	var sum float64
	for f := range row {
		density := s.hist[f][s.binIndex(f, row[f])]
		sum += -math.Log(density + eps)
	}
	return sum
}

func (s *DensityScorer) binIndex(f int, v float64) int {
	lo, hi := s.lo[f], s.hi[f]
	if hi <= lo {
		return 0
	}
	b := int((v - lo) / (hi - lo) * float64(s.bins))
	if b < 0 {
		return 0
	}
	if b >= s.bins {
		return s.bins - 1
	}
	return b
}
