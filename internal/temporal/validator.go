// Package temporal certifies the composite score against a held-out later
// time window: out-of-time precision, a permutation null for the lift, per
// year stability and feature drift.
package temporal

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
)

// Validator runs the temporal validation suite.
type Validator struct {
	cfg config.ValidationConfig
}

// NewValidator creates a validator from config.
func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Result is the full validation report.
type Result struct {
	TopK           int                 `json:"top_k"`
	PrecisionTrain float64             `json:"precision_train"`
	PrecisionValid float64             `json:"precision_valid"`
	Regression     bool                `json:"regression"`
	ObservedLift   float64             `json:"observed_lift"`
	NullMean       float64             `json:"null_mean"`
	NullStd        float64             `json:"null_std"`
	ZScore         float64             `json:"z_score"`
	LiftByYear     map[int]float64     `json:"lift_by_year"`
	LiftRange      float64             `json:"lift_range"`
	Drift          []model.FeatureDrift `json:"drift"`

	// EnsembleAgreement is the top-K overlap between the two anomaly
	// sub-models, supplied by the scoring pipeline. High agreement between
	// structurally different detectors is evidence the extremes are not an
	// artifact of either model. Zero when the ensemble ran degraded.
	EnsembleAgreement float64 `json:"ensemble_agreement"`
}

// Validate runs the suite. Train scores set the in-window reference;
// valid scores are the held-out later window. The drift matrices are the
// feature matrices of the two windows.
func (v *Validator) Validate(ctx context.Context, train, valid []model.ScoreReport, baseline, comparison *model.Matrix) (*Result, error) {
	if len(train) == 0 || len(valid) == 0 {
		return nil, eris.New("temporal: both windows must be non-empty")
	}

	res := &Result{}

	res.PrecisionTrain = precisionAtK(train, v.cfg.TopKPct)
	res.PrecisionValid = precisionAtK(valid, v.cfg.TopKPct)
	res.TopK = topK(len(valid), v.cfg.TopKPct)
	res.Regression = res.PrecisionValid < res.PrecisionTrain

	lift, err := v.permutationTest(ctx, valid, res)
	if err != nil {
		return nil, err
	}
	res.ObservedLift = lift

	res.LiftByYear, res.LiftRange = v.liftByYear(valid)

	if baseline != nil && comparison != nil {
		res.Drift, err = v.DriftReport(baseline, comparison)
		if err != nil {
			return nil, err
		}
	}

	zap.L().Info("temporal: validation complete",
		zap.Float64("precision_train", res.PrecisionTrain),
		zap.Float64("precision_valid", res.PrecisionValid),
		zap.Bool("regression", res.Regression),
		zap.Float64("observed_lift", res.ObservedLift),
		zap.Float64("z_score", res.ZScore),
		zap.Float64("lift_range", res.LiftRange),
	)

	return res, nil
}

func topK(n int, pct float64) int {
	k := int(math.Ceil(pct * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// precisionAtK is the proxy-positive fraction among the top K percent by
// composite score.
func precisionAtK(scores []model.ScoreReport, pct float64) float64 {
	ordered := append([]model.ScoreReport(nil), scores...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Composite > ordered[j].Composite })

	k := topK(len(ordered), pct)
	hits := 0
	for _, s := range ordered[:k] {
		if s.ProxyLabel {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// lift is precision@K over the window's base proxy rate. A base rate of zero
// yields a lift of zero rather than a division blowup.
func lift(scores []model.ScoreReport, labels []bool, pct float64) float64 {
	n := len(scores)
	base := 0
	for _, l := range labels {
		if l {
			base++
		}
	}
	if base == 0 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]].Composite > scores[idx[b]].Composite
	})

	k := topK(n, pct)
	hits := 0
	for _, i := range idx[:k] {
		if labels[i] {
			hits++
		}
	}
	precision := float64(hits) / float64(k)
	baseRate := float64(base) / float64(n)
	return precision / baseRate
}

// permutationTest shuffles the proxy labels a configured number of times and
// reports the z-score of the observed lift against the shuffled null. Each
// permutation gets its own seed drawn up front from the master seed, so the
// result is deterministic no matter how the workers are scheduled.
func (v *Validator) permutationTest(ctx context.Context, valid []model.ScoreReport, res *Result) (float64, error) {
	labels := make([]bool, len(valid))
	for i, s := range valid {
		labels[i] = s.ProxyLabel
	}
	observed := lift(valid, labels, v.cfg.TopKPct)

	perms := v.cfg.Permutations
	if perms <= 0 {
		return observed, eris.Errorf("temporal: permutations must be positive (got %d)", perms)
	}

	master := rand.New(rand.NewSource(v.cfg.PermutationSeed))
	seeds := make([]int64, perms)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	null := make([]float64, perms)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < perms; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			shuffled := append([]bool(nil), labels...)
			rng.Shuffle(len(shuffled), func(a, b int) {
				shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
			})
			null[i] = lift(valid, shuffled, v.cfg.TopKPct)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, eris.Wrap(err, "temporal: permutation test")
	}

	mean, err := stats.Mean(null)
	if err != nil {
		return 0, eris.Wrap(err, "temporal: null mean")
	}
	std, err := stats.StandardDeviation(null)
	if err != nil {
		return 0, eris.Wrap(err, "temporal: null stddev")
	}

	res.NullMean = mean
	res.NullStd = std
	if std > 0 {
		res.ZScore = (observed - mean) / std
	}

	return observed, nil
}

// liftByYear recomputes the lift per calendar year and reports the spread.
// Years with too few contracts for a meaningful top-K are skipped.
func (v *Validator) liftByYear(scores []model.ScoreReport) (map[int]float64, float64) {
	byYear := make(map[int][]model.ScoreReport)
	for _, s := range scores {
		byYear[s.Year] = append(byYear[s.Year], s)
	}

	out := make(map[int]float64, len(byYear))
	lo, hi := math.Inf(1), math.Inf(-1)
	for year, ys := range byYear {
		if len(ys) < 20 {
			continue
		}
		labels := make([]bool, len(ys))
		for i, s := range ys {
			labels[i] = s.ProxyLabel
		}
		l := lift(ys, labels, v.cfg.TopKPct)
		out[year] = l
		if l < lo {
			lo = l
		}
		if l > hi {
			hi = l
		}
	}
	if len(out) == 0 {
		return out, 0
	}
	return out, hi - lo
}
