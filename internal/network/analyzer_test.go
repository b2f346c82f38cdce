package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
)

func testNetworkConfig() config.NetworkConfig {
	return config.NetworkConfig{
		MajorityThreshold:    0.5,
		PageRankDamping:      0.85,
		PageRankTolerance:    1e-6,
		CommunityRetries:     3,
		EdgeChunkSize:        100_000,
		CommunitySeed:        42,
		ModularityResolution: 1.0,
	}
}

func award(agency, vendor string, value float64) model.Contract {
	return model.Contract{
		ID:        agency + "/" + vendor,
		AgencyID:  agency,
		VendorID:  vendor,
		Value:     value,
		AwardDate: time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeConcentratedAgency(t *testing.T) {
	a := NewAnalyzer(testNetworkConfig())

	// 80% of AG-1's spend goes to V-1.
	res, err := a.Analyze(context.Background(), []model.Contract{
		award("AG-1", "V-1", 800),
		award("AG-1", "V-2", 200),
	})
	require.NoError(t, err)

	ag := res.Agencies["AG-1"]
	assert.InDelta(t, 0.80, ag.TopVendorShare, 1e-9)
	assert.Equal(t, "V-1", ag.TopVendorID)
	assert.InDelta(t, 0.64+0.04, ag.HHI, 1e-9)
	assert.True(t, ag.ConcentrationFlag)
	assert.InDelta(t, 1000, ag.TotalValue, 1e-9)
	assert.Equal(t, 2, ag.ContractCount)
}

func TestAnalyzeEvenSplitNotConcentrated(t *testing.T) {
	a := NewAnalyzer(testNetworkConfig())

	// Exactly half is not a strict majority.
	res, err := a.Analyze(context.Background(), []model.Contract{
		award("AG-1", "V-1", 500),
		award("AG-1", "V-2", 500),
	})
	require.NoError(t, err)

	ag := res.Agencies["AG-1"]
	assert.InDelta(t, 0.50, ag.TopVendorShare, 1e-9)
	assert.False(t, ag.ConcentrationFlag)
	assert.InDelta(t, 0.50, ag.HHI, 1e-9)
}

func TestAnalyzeVendorMetrics(t *testing.T) {
	a := NewAnalyzer(testNetworkConfig())

	// V-hub serves three agencies, V-leaf one.
	res, err := a.Analyze(context.Background(), []model.Contract{
		award("AG-1", "V-hub", 100),
		award("AG-2", "V-hub", 100),
		award("AG-3", "V-hub", 100),
		award("AG-3", "V-leaf", 100),
	})
	require.NoError(t, err)

	hub := res.Vendors["V-hub"]
	leaf := res.Vendors["V-leaf"]
	assert.Equal(t, 3, hub.Degree)
	assert.Equal(t, 1, leaf.Degree)
	assert.Greater(t, hub.PageRank, leaf.PageRank)
	assert.Greater(t, hub.RankPercentile, leaf.RankPercentile)
	assert.InDelta(t, 1.0, hub.RankPercentile, 1e-9)
}

func TestAnalyzeCommunitiesSplitDisconnectedClusters(t *testing.T) {
	a := NewAnalyzer(testNetworkConfig())

	// Two disconnected bipartite clusters must land in different communities.
	res, err := a.Analyze(context.Background(), []model.Contract{
		award("AG-1", "V-1", 100),
		award("AG-1", "V-2", 100),
		award("AG-2", "V-3", 100),
		award("AG-2", "V-4", 100),
	})
	require.NoError(t, err)

	require.False(t, res.Degraded)
	assert.GreaterOrEqual(t, res.CommunityCount, 2)
	assert.NotEqual(t, res.Vendors["V-1"].CommunityID, res.Vendors["V-3"].CommunityID)
	assert.Equal(t, res.Vendors["V-1"].CommunityID, res.Agencies["AG-1"].CommunityID)
}

func TestAnalyzeDeterministic(t *testing.T) {
	contracts := []model.Contract{
		award("AG-1", "V-1", 300),
		award("AG-1", "V-2", 150),
		award("AG-2", "V-2", 500),
		award("AG-2", "V-3", 75),
		award("AG-3", "V-3", 920),
	}

	first, err := NewAnalyzer(testNetworkConfig()).Analyze(context.Background(), contracts)
	require.NoError(t, err)
	second, err := NewAnalyzer(testNetworkConfig()).Analyze(context.Background(), contracts)
	require.NoError(t, err)

	assert.Equal(t, first.Vendors, second.Vendors)
	assert.Equal(t, first.Agencies, second.Agencies)
	assert.Equal(t, first.CommunityCount, second.CommunityCount)
	assert.InDelta(t, first.Modularity, second.Modularity, 1e-12)
}

// Community IDs are persisted output, so repeated analyses of the same input
// must agree on the labels themselves, not just the memberships.
func TestAnalyzeCommunityLabelsReproducible(t *testing.T) {
	contracts := []model.Contract{
		award("AG-1", "V-1", 100),
		award("AG-1", "V-2", 100),
		award("AG-2", "V-3", 100),
		award("AG-2", "V-4", 100),
		award("AG-3", "V-5", 100),
		award("AG-3", "V-6", 100),
	}

	first, err := NewAnalyzer(testNetworkConfig()).Analyze(context.Background(), contracts)
	require.NoError(t, err)

	for run := 0; run < 5; run++ {
		res, err := NewAnalyzer(testNetworkConfig()).Analyze(context.Background(), contracts)
		require.NoError(t, err)
		for vid, m := range first.Vendors {
			assert.Equal(t, m.CommunityID, res.Vendors[vid].CommunityID, "vendor %s run %d", vid, run)
		}
		for aid, m := range first.Agencies {
			assert.Equal(t, m.CommunityID, res.Agencies[aid].CommunityID, "agency %s run %d", aid, run)
		}
	}

	// Labels are canonical: the community holding the lowest-numbered node
	// (the first vendor) is always community zero.
	assert.Equal(t, 0, first.Vendors["V-1"].CommunityID)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	a := NewAnalyzer(testNetworkConfig())
	_, err := a.Analyze(context.Background(), nil)
	require.Error(t, err)
}

func TestAnalyzeCanceledContext(t *testing.T) {
	cfg := testNetworkConfig()
	cfg.EdgeChunkSize = 1
	a := NewAnalyzer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, []model.Contract{
		award("AG-1", "V-1", 100),
		award("AG-2", "V-2", 100),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
