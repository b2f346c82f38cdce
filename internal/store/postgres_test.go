package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), string(model.RunStatusRunning), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs(string(model.RunStatusComplete), 10, 2, false, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", 10, 2, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScores_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"score_reports"}, scoreColumns).
		WillReturnResult(2)

	err := s.SaveScores(context.Background(), "run-1", []model.ScoreReport{
		{ContractID: "c1", AgencyID: "AG-1", VendorID: "V-1", Composite: 0.9, Tier: model.TierHigh},
		{ContractID: "c2", AgencyID: "AG-2", VendorID: "V-2", Composite: 0.1, Tier: model.TierLow},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScores_ShortInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"score_reports"}, scoreColumns).
		WillReturnResult(1)

	err := s.SaveScores(context.Background(), "run-1", []model.ScoreReport{
		{ContractID: "c1"}, {ContractID: "c2"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short score insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAgencyReports_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_agency_reports"}, agencyColumns).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveAgencyReports(context.Background(), "run-1", []model.AgencyReport{
		{AgencyID: "AG-1", TotalValue: 900, ContractCount: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestCalibration_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT high_boundary`).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.LatestCalibration(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListScores_TierFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{
		"contract_id", "agency_id", "vendor_id", "value", "year",
		"anomaly_score", "splitting_score", "network_score", "composite", "tier", "proxy_label",
	}).AddRow("c1", "AG-1", "V-1", 900.0, 2022, 0.9, 1.0, 0.8, 0.91, "High", true)

	mock.ExpectQuery(`SELECT contract_id`).
		WithArgs("run-1", "High", 1000).
		WillReturnRows(rows)

	got, err := s.ListScores(context.Background(), "run-1", ScoreFilter{Tier: model.TierHigh})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.TierHigh, got[0].Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}
