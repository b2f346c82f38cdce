package anomaly

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
)

func testAnomalyConfig() config.AnomalyConfig {
	return config.AnomalyConfig{Trees: 50, SampleSize: 64, Bins: 10, Seed: 42}
}

// syntheticMatrix returns n clustered rows plus one extreme outlier as the
// final row.
func syntheticMatrix(n int) *model.Matrix {
	rng := rand.New(rand.NewSource(7))
	m := &model.Matrix{}
	for i := 0; i < n; i++ {
		row := make([]float64, model.NumFeatures)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		m.IDs = append(m.IDs, fmt.Sprintf("CO-%03d", i))
		m.Rows = append(m.Rows, row)
	}

	outlier := make([]float64, model.NumFeatures)
	for j := range outlier {
		outlier[j] = 100
	}
	m.IDs = append(m.IDs, "CO-OUTLIER")
	m.Rows = append(m.Rows, outlier)
	return m
}

func TestEnsembleRanksOutlierHighest(t *testing.T) {
	m := syntheticMatrix(40)
	e := NewEnsemble(testAnomalyConfig())
	require.NoError(t, e.Fit(context.Background(), m))

	results, err := e.Score(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, results, m.Len())

	top := results[0]
	for _, r := range results[1:] {
		if r.Combined > top.Combined {
			top = r
		}
	}
	assert.Equal(t, "CO-OUTLIER", top.ContractID)
	assert.False(t, e.Degraded())
}

func TestEnsembleScoresInUnitInterval(t *testing.T) {
	m := syntheticMatrix(40)
	e := NewEnsemble(testAnomalyConfig())
	require.NoError(t, e.Fit(context.Background(), m))

	results, err := e.Score(context.Background(), m)
	require.NoError(t, err)
	for _, r := range results {
		assert.Greater(t, r.Combined, 0.0, r.ContractID)
		assert.LessOrEqual(t, r.Combined, 1.0, r.ContractID)
	}
}

func TestEnsembleDeterministic(t *testing.T) {
	m := syntheticMatrix(40)

	score := func() []model.AnomalyResult {
		e := NewEnsemble(testAnomalyConfig())
		require.NoError(t, e.Fit(context.Background(), m))
		results, err := e.Score(context.Background(), m)
		require.NoError(t, err)
		return results
	}

	first, second := score(), score()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Combined, second[i].Combined, first[i].ContractID)
	}
}

// Rows beyond the fitted window stay scorable on the same normalization.
func TestEnsembleScoresHeldOutRows(t *testing.T) {
	full := syntheticMatrix(60)
	train := &model.Matrix{IDs: full.IDs[:40], Rows: full.Rows[:40]}

	e := NewEnsemble(testAnomalyConfig())
	require.NoError(t, e.Fit(context.Background(), train))

	results, err := e.Score(context.Background(), full)
	require.NoError(t, err)
	require.Len(t, results, full.Len())
	for _, r := range results[40:] {
		assert.Greater(t, r.Combined, 0.0, r.ContractID)
		assert.LessOrEqual(t, r.Combined, 1.0, r.ContractID)
	}
}

type stubScorer struct {
	name   string
	fitErr error
	score  func([]float64) float64
}

func (s *stubScorer) Name() string { return s.name }
func (s *stubScorer) Fit(context.Context, [][]float64) error {
	return s.fitErr
}
func (s *stubScorer) Score(row []float64) float64 { return s.score(row) }

func TestEnsembleDegradesToSurvivor(t *testing.T) {
	m := syntheticMatrix(10)
	e := NewEnsembleWith(
		&stubScorer{name: "broken", fitErr: eris.New("no fit")},
		&stubScorer{name: "ok", score: func(row []float64) float64 { return row[0] }},
	)

	require.NoError(t, e.Fit(context.Background(), m))
	assert.True(t, e.Degraded())

	results, err := e.Score(context.Background(), m)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Degraded)
		assert.Equal(t, r.RankDensity, r.Combined)
		assert.Zero(t, r.RankIso)
	}
}

func TestEnsembleBothSubModelsFailing(t *testing.T) {
	e := NewEnsembleWith(
		&stubScorer{name: "a", fitErr: eris.New("a failed")},
		&stubScorer{name: "b", fitErr: eris.New("b failed")},
	)
	require.Error(t, e.Fit(context.Background(), syntheticMatrix(10)))
}

func TestEnsembleScoreBeforeFit(t *testing.T) {
	e := NewEnsemble(testAnomalyConfig())
	_, err := e.Score(context.Background(), syntheticMatrix(5))
	require.Error(t, err)
}

func TestEnsembleEmptyTrainingWindow(t *testing.T) {
	e := NewEnsemble(testAnomalyConfig())
	require.Error(t, e.Fit(context.Background(), &model.Matrix{}))
}

func TestPercentileRanksAverageTies(t *testing.T) {
	ranks := percentileRanks([]float64{1, 2, 2, 3})
	assert.Equal(t, []float64{0.25, 0.625, 0.625, 1}, ranks)
}

func TestTopKOverlapAgreement(t *testing.T) {
	m := syntheticMatrix(20)
	e := NewEnsembleWith(
		&stubScorer{name: "a", score: func(row []float64) float64 { return row[0] }},
		&stubScorer{name: "b", score: func(row []float64) float64 { return row[0] * 2 }},
	)
	require.NoError(t, e.Fit(context.Background(), m))
	_, err := e.Score(context.Background(), m)
	require.NoError(t, err)

	// Both stubs rank rows identically, so the top sets coincide.
	assert.Equal(t, 1.0, e.TopKOverlap(5))
}
