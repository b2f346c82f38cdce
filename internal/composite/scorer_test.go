package composite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/splitting"
)

func defaultWeights() config.ScoringConfig {
	return config.ScoringConfig{
		AnomalyWeight:   0.60,
		SplittingWeight: 0.25,
		NetworkWeight:   0.15,
	}
}

func testBoundaries() model.TierBoundaries {
	return model.TierBoundaries{High: 0.7, Medium: 0.4}
}

func testInputs() Inputs {
	awardDate := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)
	pair := model.PairKey{VendorID: "V-1", AgencyID: "AG-1"}
	return Inputs{
		Contracts: []model.Contract{
			{ID: "c1", AgencyID: "AG-1", VendorID: "V-1", Value: 900, AwardDate: awardDate},
			{ID: "c2", AgencyID: "AG-2", VendorID: "V-2", Value: 500, AwardDate: awardDate,
				DirectAward: true, Modified: true},
		},
		Anomaly: []model.AnomalyResult{
			{ContractID: "c1", Combined: 0.9},
			{ContractID: "c2", Combined: 0.2},
		},
		Splitting: &splitting.Result{
			ByID: map[string]model.SplitFlag{
				"c1": {Pair: pair, Flagged: true, WindowDays: 30},
			},
		},
		Network: &model.NetworkResult{
			Vendors: map[string]model.VendorMetrics{
				"V-1": {VendorID: "V-1", RankPercentile: 1.0},
				"V-2": {VendorID: "V-2", RankPercentile: 0.5},
			},
			Agencies: map[string]model.AgencyMetrics{
				"AG-1": {AgencyID: "AG-1", ConcentrationFlag: true, TopVendorShare: 0.9, CommunityID: 3},
				"AG-2": {AgencyID: "AG-2", ConcentrationFlag: false, TopVendorShare: 0.5},
			},
		},
	}
}

func TestScoreFusesAllThreeSignals(t *testing.T) {
	s := NewScorer(defaultWeights(), []int{30, 60, 90})

	reports, err := s.Score(testInputs(), testBoundaries())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	c1 := reports[0]
	assert.Equal(t, "c1", c1.ContractID)
	assert.InDelta(t, 0.9, c1.AnomalyScore, 1e-9)
	// 30-day window is the tightest, full signal strength.
	assert.InDelta(t, 1.0, c1.SplittingScore, 1e-9)
	// 0.6 x percentile 1.0 plus 0.4 for the captured agency.
	assert.InDelta(t, 1.0, c1.NetworkScore, 1e-9)
	assert.InDelta(t, 0.60*0.9+0.25*1.0+0.15*1.0, c1.Composite, 1e-9)
	assert.Equal(t, model.TierHigh, c1.Tier)
	assert.False(t, c1.ProxyLabel)

	c2 := reports[1]
	assert.Zero(t, c2.SplittingScore)
	assert.InDelta(t, 0.6*0.5, c2.NetworkScore, 1e-9)
	assert.InDelta(t, 0.60*0.2+0.15*0.3, c2.Composite, 1e-9)
	assert.Equal(t, model.TierLow, c2.Tier)
	assert.True(t, c2.ProxyLabel, "direct award plus modification")
}

func TestScoreWindowTightness(t *testing.T) {
	s := NewScorer(defaultWeights(), []int{30, 60, 90})

	tests := []struct {
		days int
		want float64
	}{
		{30, 1.0},
		{60, 0.85},
		{90, 0.70},
	}
	for _, tt := range tests {
		in := testInputs()
		flag := in.Splitting.ByID["c1"]
		flag.WindowDays = tt.days
		in.Splitting.ByID["c1"] = flag

		reports, err := s.Score(in, testBoundaries())
		require.NoError(t, err)
		assert.InDelta(t, tt.want, reports[0].SplittingScore, 1e-9, "window %d", tt.days)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(defaultWeights(), []int{30, 60, 90})

	first, err := s.Score(testInputs(), testBoundaries())
	require.NoError(t, err)
	second, err := s.Score(testInputs(), testBoundaries())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScoreMissingAnomalyResult(t *testing.T) {
	s := NewScorer(defaultWeights(), []int{30})

	in := testInputs()
	in.Anomaly = in.Anomaly[:1]
	_, err := s.Score(in, testBoundaries())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c2")
}

func TestScoreNilDetectorOutputs(t *testing.T) {
	// A degraded run may carry no splitting or network output at all; the
	// composite then rests on the anomaly term alone.
	s := NewScorer(defaultWeights(), []int{30})

	in := testInputs()
	in.Splitting = nil
	in.Network = nil
	reports, err := s.Score(in, testBoundaries())
	require.NoError(t, err)
	assert.InDelta(t, 0.60*0.9, reports[0].Composite, 1e-9)
}

func TestAgencyReports(t *testing.T) {
	s := NewScorer(defaultWeights(), []int{30, 60, 90})
	in := testInputs()
	scores, err := s.Score(in, testBoundaries())
	require.NoError(t, err)

	reports := AgencyReports(scores, in.Network)
	require.Len(t, reports, 2)

	ag1 := reports[0]
	assert.Equal(t, "AG-1", ag1.AgencyID)
	assert.InDelta(t, 900, ag1.TotalValue, 1e-9)
	assert.Equal(t, 1, ag1.ContractCount)
	assert.Equal(t, 1, ag1.HighTierCount)
	assert.InDelta(t, 900, ag1.ValueAtRisk, 1e-9)
	assert.True(t, ag1.ConcentrationFlag)
	assert.Equal(t, 3, ag1.CommunityID)

	ag2 := reports[1]
	assert.Equal(t, "AG-2", ag2.AgencyID)
	assert.Zero(t, ag2.HighTierCount)
	assert.Zero(t, ag2.ValueAtRisk)
}
