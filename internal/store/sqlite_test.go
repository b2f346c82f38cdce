package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleScores() []model.ScoreReport {
	return []model.ScoreReport{
		{
			ContractID: "c1", AgencyID: "AG-1", VendorID: "V-1", Value: 900, Year: 2022,
			AnomalyScore: 0.9, SplittingScore: 1.0, NetworkScore: 0.8,
			Composite: 0.91, Tier: model.TierHigh, ProxyLabel: true,
		},
		{
			ContractID: "c2", AgencyID: "AG-2", VendorID: "V-2", Value: 500, Year: 2022,
			AnomalyScore: 0.2, SplittingScore: 0, NetworkScore: 0.1,
			Composite: 0.14, Tier: model.TierLow, ProxyLabel: false,
		},
	}
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.NoError(t, st.CompleteRun(ctx, run.ID, 1000, 7, true))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 1000, got.Contracts)
	assert.Equal(t, 7, got.Excluded)
	assert.True(t, got.Degraded)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
}

func TestSQLite_RunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	require.Error(t, err)

	err = st.CompleteRun(ctx, "missing", 0, 0, false)
	require.Error(t, err)
}

func TestSQLite_LatestCompletedRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, first.ID, 10, 0, false))

	// A still-running run must not shadow the completed one.
	_, err = st.CreateRun(ctx)
	require.NoError(t, err)

	latest, err := st.LatestCompletedRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// --- Score reports ---

func TestSQLite_SaveAndListScores(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SaveScores(ctx, run.ID, sampleScores()))

	got, err := st.ListScores(ctx, run.ID, ScoreFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by composite descending.
	assert.Equal(t, "c1", got[0].ContractID)
	assert.Equal(t, model.TierHigh, got[0].Tier)
	assert.True(t, got[0].ProxyLabel)
	assert.InDelta(t, 0.91, got[0].Composite, 1e-9)
}

func TestSQLite_ListScoresFiltered(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SaveScores(ctx, run.ID, sampleScores()))

	high, err := st.ListScores(ctx, run.ID, ScoreFilter{Tier: model.TierHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "c1", high[0].ContractID)

	byAgency, err := st.ListScores(ctx, run.ID, ScoreFilter{AgencyID: "AG-2"})
	require.NoError(t, err)
	require.Len(t, byAgency, 1)
	assert.Equal(t, "c2", byAgency[0].ContractID)

	limited, err := st.ListScores(ctx, run.ID, ScoreFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Agency reports ---

func TestSQLite_AgencyReports(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx)
	require.NoError(t, err)

	reports := []model.AgencyReport{
		{
			AgencyID: "AG-1", TotalValue: 900, ContractCount: 1,
			TopVendorShare: 0.9, ConcentrationFlag: true, CommunityID: 2,
			MeanComposite: 0.91, HighTierCount: 1, ValueAtRisk: 900,
		},
	}
	require.NoError(t, st.SaveAgencyReports(ctx, run.ID, reports))

	got, err := st.ListAgencyReports(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, reports[0], got[0])
}

// --- Calibrations ---

func TestSQLite_CalibrationRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.LatestCalibration(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	older := model.TierBoundaries{
		High: 0.6, Medium: 0.35,
		ProxyHigh: 0.4, ProxyMedium: 0.2, ProxyLow: 0.05,
		RunID: "run-old", CalibratedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := model.TierBoundaries{
		High: 0.7, Medium: 0.4,
		ProxyHigh: 0.5, ProxyMedium: 0.25, ProxyLow: 0.04,
		RunID: "run-new", CalibratedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveCalibration(ctx, older))
	require.NoError(t, st.SaveCalibration(ctx, newer))

	got, err := st.LatestCalibration(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-new", got.RunID)
	assert.InDelta(t, 0.7, got.High, 1e-9)
	assert.InDelta(t, 0.4, got.Medium, 1e-9)
}
