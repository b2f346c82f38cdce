package temporal

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/auditlens/auditlens/internal/model"
)

const psiBuckets = 10

// DriftReport computes the Population Stability Index for every feature
// between the baseline and comparison windows. Bucket edges are the baseline
// deciles; comparison rows are counted into the same edges.
func (v *Validator) DriftReport(baseline, comparison *model.Matrix) ([]model.FeatureDrift, error) {
	if baseline.Len() < psiBuckets {
		return nil, eris.Errorf("temporal: baseline window too small for deciles (%d rows)", baseline.Len())
	}
	if comparison.Len() == 0 {
		return nil, eris.New("temporal: empty comparison window")
	}

	report := make([]model.FeatureDrift, 0, model.NumFeatures)
	for f := 0; f < model.NumFeatures; f++ {
		psi := PSI(baseline.Column(f), comparison.Column(f))
		status := "stable"
		switch {
		case psi >= v.cfg.PSIRetrain:
			status = "retrain"
		case psi >= v.cfg.PSIMonitor:
			status = "monitor"
		}
		report = append(report, model.FeatureDrift{
			Feature: model.FeatureNames[f],
			PSI:     psi,
			Status:  status,
		})
	}
	return report, nil
}

// PSI computes the index for one feature: decile-bucket the baseline, place
// both windows into those buckets and sum (p_cmp - p_base) * ln(p_cmp/p_base).
// Empty buckets are floored at a small epsilon so the log stays finite.
func PSI(baseline, comparison []float64) float64 {
	edges := decileEdges(baseline)
	pBase := proportions(baseline, edges)
	pCmp := proportions(comparison, edges)

	const eps = 1e-6
	var sum float64
	for b := 0; b < psiBuckets; b++ {
		pb := math.Max(pBase[b], eps)
		pc := math.Max(pCmp[b], eps)
		sum += (pc - pb) * math.Log(pc/pb)
	}
	return sum
}

// decileEdges returns the 9 interior decile cut points of the values.
func decileEdges(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	edges := make([]float64, psiBuckets-1)
	n := len(sorted)
	for i := 1; i < psiBuckets; i++ {
		pos := i * n / psiBuckets
		if pos >= n {
			pos = n - 1
		}
		edges[i-1] = sorted[pos]
	}
	return edges
}

// proportions buckets values against the edges and normalizes counts.
func proportions(values []float64, edges []float64) []float64 {
	counts := make([]float64, psiBuckets)
	for _, v := range values {
		counts[bucket(v, edges)]++
	}
	for b := range counts {
		counts[b] /= float64(len(values))
	}
	return counts
}

func bucket(v float64, edges []float64) int {
	// First edge at or above v; values beyond the last edge land in the top
	// bucket.
	return sort.SearchFloat64s(edges, v)
}
