// Package pipeline orchestrates one full scoring run: ingest, feature build,
// the three detectors in parallel, composite scoring against frozen
// boundaries, report assembly and persistence.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditlens/auditlens/internal/anomaly"
	"github.com/auditlens/auditlens/internal/composite"
	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/features"
	"github.com/auditlens/auditlens/internal/ingest"
	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/network"
	"github.com/auditlens/auditlens/internal/splitting"
	"github.com/auditlens/auditlens/internal/store"
	"github.com/auditlens/auditlens/internal/threshold"
)

// Pipeline wires the scoring stages together.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	table *threshold.Table
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, table *threshold.Table) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, table: table}
}

// Result is the output of one complete run.
type Result struct {
	Run      *model.Run
	Scores   []model.ScoreReport
	Agencies []model.AgencyReport
	Drift    []model.FeatureDrift
	Stats    ingest.Stats
	Degraded bool

	// EnsembleAgreement is the anomaly ensemble's top-K overlap diagnostic,
	// with K taken from the validation top-K percentage.
	EnsembleAgreement float64

	// TrainMatrix and ValidMatrix are retained for the validate command.
	TrainMatrix *model.Matrix
	ValidMatrix *model.Matrix
}

// Run executes the full scoring pipeline over the input file, scoring against
// the given frozen boundaries. On any stage failure the run is marked failed
// and no partial outputs are persisted.
func (p *Pipeline) Run(ctx context.Context, inputPath string, boundaries model.TierBoundaries) (*Result, error) {
	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting run", zap.String("input", inputPath))
	start := time.Now()

	result, err := p.execute(ctx, inputPath, boundaries)
	if err != nil {
		if failErr := p.store.FailRun(ctx, run.ID); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		return nil, err
	}

	if err := p.persist(ctx, run.ID, result); err != nil {
		if failErr := p.store.FailRun(ctx, run.ID); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		return nil, err
	}

	if err := p.store.CompleteRun(ctx, run.ID, len(result.Scores), result.Stats.Excluded, result.Degraded); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete run")
	}

	log.Info("pipeline: run complete",
		zap.Int("contracts", len(result.Scores)),
		zap.Int("excluded", result.Stats.Excluded),
		zap.Bool("degraded", result.Degraded),
		zap.Float64("ensemble_agreement", result.EnsembleAgreement),
		zap.Duration("elapsed", time.Since(start)),
	)
	result.Run = run
	return result, nil
}

// execute runs the computation stages without touching run state, so callers
// control how failures are recorded.
func (p *Pipeline) execute(ctx context.Context, inputPath string, boundaries model.TierBoundaries) (*Result, error) {
	records, stats, err := ingest.ReadFile(inputPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ingest")
	}
	if len(records) == 0 {
		return nil, eris.New("pipeline: no usable contracts in input")
	}

	contracts := make([]model.Contract, len(records))
	for i := range records {
		contracts[i] = records[i].Contract
	}

	builder := features.NewBuilder(p.table, p.cfg.Splitting.ProximityPct)
	matrix, _, err := builder.Build(records)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: feature build")
	}

	trainMatrix, validMatrix, err := p.split(contracts, matrix)
	if err != nil {
		return nil, err
	}

	// The three detectors are independent given the frozen inputs.
	var (
		anomalyResults  []model.AnomalyResult
		splitResult     *splitting.Result
		netResult       *model.NetworkResult
		anomalyDegraded bool
		anomalyOverlap  float64
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ensemble := anomaly.NewEnsemble(p.cfg.Anomaly)
		if err := ensemble.Fit(gctx, trainMatrix); err != nil {
			return eris.Wrap(err, "pipeline: anomaly fit")
		}
		results, err := ensemble.Score(gctx, matrix)
		if err != nil {
			return eris.Wrap(err, "pipeline: anomaly score")
		}
		anomalyResults = results
		anomalyDegraded = ensemble.Degraded()
		anomalyOverlap = ensemble.TopKOverlap(topK(matrix.Len(), p.cfg.Validation.TopKPct))
		return nil
	})

	g.Go(func() error {
		detector := splitting.NewDetector(p.table, p.cfg.Splitting)
		res, err := detector.Detect(contracts)
		if err != nil {
			return eris.Wrap(err, "pipeline: splitting")
		}
		splitResult = res
		return nil
	})

	g.Go(func() error {
		analyzer := network.NewAnalyzer(p.cfg.Network)
		res, err := analyzer.Analyze(gctx, contracts)
		if err != nil {
			return eris.Wrap(err, "pipeline: network")
		}
		netResult = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	degraded := anomalyDegraded || netResult.Degraded

	scorer := composite.NewScorer(p.cfg.Scoring, p.cfg.Splitting.WindowsDays)
	scores, err := scorer.Score(composite.Inputs{
		Contracts: contracts,
		Anomaly:   anomalyResults,
		Splitting: splitResult,
		Network:   netResult,
	}, boundaries)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: composite")
	}

	return &Result{
		Scores:            scores,
		Agencies:          composite.AgencyReports(scores, netResult),
		Stats:             stats,
		Degraded:          degraded,
		EnsembleAgreement: anomalyOverlap,
		TrainMatrix:       trainMatrix,
		ValidMatrix:       validMatrix,
	}, nil
}

// topK converts a top fraction into a count, at least one row.
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

// split partitions the feature matrix into the leakage-safe training window
// and the held-out window by award date. Rows outside both windows train
// nothing and validate nothing but are still scored.
func (p *Pipeline) split(contracts []model.Contract, matrix *model.Matrix) (*model.Matrix, *model.Matrix, error) {
	trainStart, trainEnd, err := p.cfg.Windows.TrainRange()
	if err != nil {
		return nil, nil, err
	}
	validStart, validEnd, err := p.cfg.Windows.ValidRange()
	if err != nil {
		return nil, nil, err
	}

	train := &model.Matrix{}
	valid := &model.Matrix{}
	for i := range contracts {
		d := contracts[i].AwardDate
		switch {
		case !d.Before(trainStart) && !d.After(trainEnd):
			train.IDs = append(train.IDs, matrix.IDs[i])
			train.Rows = append(train.Rows, matrix.Rows[i])
		case !d.Before(validStart) && !d.After(validEnd):
			valid.IDs = append(valid.IDs, matrix.IDs[i])
			valid.Rows = append(valid.Rows, matrix.Rows[i])
		}
	}
	if train.Len() == 0 {
		return nil, nil, eris.New("pipeline: no contracts in training window")
	}
	return train, valid, nil
}

// persist writes the run outputs. Failures here fail the run wholesale; the
// caller discards the stage outputs.
func (p *Pipeline) persist(ctx context.Context, runID string, result *Result) error {
	if err := p.store.SaveScores(ctx, runID, result.Scores); err != nil {
		return eris.Wrap(err, "pipeline: save scores")
	}
	if err := p.store.SaveAgencyReports(ctx, runID, result.Agencies); err != nil {
		return eris.Wrap(err, "pipeline: save agency reports")
	}
	return nil
}
