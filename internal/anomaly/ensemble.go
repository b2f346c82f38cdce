package anomaly

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
)

// Ensemble fuses the two sub-model scores by percentile rank. Fitting uses
// only a designated earlier time window; scoring covers the full dataset
// including unseen later rows, on the same [0,1] normalization.
type Ensemble struct {
	iso     Scorer
	density Scorer

	isoOK     bool
	densityOK bool
	degraded  bool

	// retained from the last Score call, for the overlap diagnostic
	lastIsoRanks     []float64
	lastDensityRanks []float64
}

// NewEnsemble builds the default two-scorer ensemble from config.
func NewEnsemble(cfg config.AnomalyConfig) *Ensemble {
	return &Ensemble{
		iso:     NewIsolationScorer(cfg.Trees, cfg.SampleSize, cfg.Seed),
		density: NewDensityScorer(cfg.Bins),
	}
}

// NewEnsembleWith builds an ensemble over explicit scorers (tests).
func NewEnsembleWith(iso, density Scorer) *Ensemble {
	return &Ensemble{iso: iso, density: density}
}

// Degraded reports whether one sub-model failed to fit and the ensemble is
// running on the survivor alone.
func (e *Ensemble) Degraded() bool { return e.degraded }

// Fit trains both sub-models on the training rows. A single sub-model fit
// failure degrades the ensemble to the survivor; both failing is an error.
func (e *Ensemble) Fit(ctx context.Context, train *model.Matrix) error {
	if train.Len() == 0 {
		return eris.New("anomaly: empty training window")
	}

	isoErr := e.iso.Fit(ctx, train.Rows)
	if isoErr != nil && ctx.Err() != nil {
		return isoErr
	}
	densityErr := e.density.Fit(ctx, train.Rows)
	if densityErr != nil && ctx.Err() != nil {
		return densityErr
	}

	e.isoOK = isoErr == nil
	e.densityOK = densityErr == nil

	switch {
	case !e.isoOK && !e.densityOK:
		return eris.Wrap(isoErr, "anomaly: both sub-models failed to fit")
	case !e.isoOK:
		e.degraded = true
		zap.L().Warn("anomaly: isolation sub-model failed to fit, degrading to density",
			zap.Error(isoErr))
	case !e.densityOK:
		e.degraded = true
		zap.L().Warn("anomaly: density sub-model failed to fit, degrading to isolation",
			zap.Error(densityErr))
	}

	return nil
}

// Score scores every row of the matrix. Raw sub-model scores are converted to
// percentile ranks in [0,1] before combination, removing the scale
// incompatibility between the two sub-models; the combined score is the mean
// of the available ranks.
func (e *Ensemble) Score(ctx context.Context, m *model.Matrix) ([]model.AnomalyResult, error) {
	if !e.isoOK && !e.densityOK {
		return nil, eris.New("anomaly: ensemble not fitted")
	}

	n := m.Len()
	rawIso := make([]float64, n)
	rawDensity := make([]float64, n)
	for i, row := range m.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if e.isoOK {
			rawIso[i] = e.iso.Score(row)
		}
		if e.densityOK {
			rawDensity[i] = e.density.Score(row)
		}
	}

	var isoRanks, densityRanks []float64
	if e.isoOK {
		isoRanks = percentileRanks(rawIso)
	}
	if e.densityOK {
		densityRanks = percentileRanks(rawDensity)
	}
	e.lastIsoRanks = isoRanks
	e.lastDensityRanks = densityRanks

	results := make([]model.AnomalyResult, n)
	for i := 0; i < n; i++ {
		r := model.AnomalyResult{
			ContractID: m.IDs[i],
			Degraded:   e.degraded,
		}
		switch {
		case e.isoOK && e.densityOK:
			r.RawIsolation = rawIso[i]
			r.RawDensity = rawDensity[i]
			r.RankIso = isoRanks[i]
			r.RankDensity = densityRanks[i]
			r.Combined = (isoRanks[i] + densityRanks[i]) / 2
		case e.isoOK:
			r.RawIsolation = rawIso[i]
			r.RankIso = isoRanks[i]
			r.Combined = isoRanks[i]
		default:
			r.RawDensity = rawDensity[i]
			r.RankDensity = densityRanks[i]
			r.Combined = densityRanks[i]
		}
		results[i] = r
	}

	return results, nil
}

// TopKOverlap returns the fraction of contracts appearing in both sub-models'
// top-k sets from the last Score call. A validation diagnostic: structurally
// different detectors agreeing on the extremes is evidence the signal is not
// an artifact of either model. Returns 0 when the ensemble is degraded.
func (e *Ensemble) TopKOverlap(k int) float64 {
	if e.degraded || k <= 0 ||
		len(e.lastIsoRanks) == 0 || len(e.lastDensityRanks) == 0 {
		return 0
	}
	if k > len(e.lastIsoRanks) {
		k = len(e.lastIsoRanks)
	}

	topIso := topKIndices(e.lastIsoRanks, k)
	topDensity := topKIndices(e.lastDensityRanks, k)

	overlap := 0
	for i := range topIso {
		if topDensity[i] {
			overlap++
		}
	}
	return float64(overlap) / float64(k)
}

func topKIndices(scores []float64, k int) map[int]bool {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	top := make(map[int]bool, k)
	for _, i := range idx[:k] {
		top[i] = true
	}
	return top
}

// percentileRanks converts raw scores to average-tie percentile ranks in
// [0,1]. The highest raw score maps to 1.
func percentileRanks(raw []float64) []float64 {
	n := len(raw)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return raw[idx[a]] < raw[idx[b]] })

	ranks := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j < n-1 && raw[idx[j+1]] == raw[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg / float64(n)
		}
		i = j + 1
	}
	return ranks
}
