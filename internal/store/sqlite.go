package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/auditlens/auditlens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	contracts   INTEGER NOT NULL DEFAULT 0,
	excluded    INTEGER NOT NULL DEFAULT 0,
	degraded    INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS score_reports (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	contract_id     TEXT NOT NULL,
	agency_id       TEXT NOT NULL,
	vendor_id       TEXT NOT NULL,
	value           REAL NOT NULL,
	year            INTEGER NOT NULL,
	anomaly_score   REAL NOT NULL,
	splitting_score REAL NOT NULL,
	network_score   REAL NOT NULL,
	composite       REAL NOT NULL,
	tier            TEXT NOT NULL,
	proxy_label     INTEGER NOT NULL,
	PRIMARY KEY (run_id, contract_id)
);

CREATE TABLE IF NOT EXISTS agency_reports (
	run_id             TEXT NOT NULL REFERENCES runs(id),
	agency_id          TEXT NOT NULL,
	total_value        REAL NOT NULL,
	contract_count     INTEGER NOT NULL,
	top_vendor_share   REAL NOT NULL,
	concentration_flag INTEGER NOT NULL,
	community_id       INTEGER NOT NULL,
	mean_composite     REAL NOT NULL,
	high_tier_count    INTEGER NOT NULL,
	value_at_risk      REAL NOT NULL,
	PRIMARY KEY (run_id, agency_id)
);

CREATE TABLE IF NOT EXISTS calibrations (
	id                TEXT PRIMARY KEY,
	high_boundary     REAL NOT NULL,
	medium_boundary   REAL NOT NULL,
	proxy_rate_high   REAL NOT NULL,
	proxy_rate_medium REAL NOT NULL,
	proxy_rate_low    REAL NOT NULL,
	run_id            TEXT NOT NULL,
	calibrated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_score_reports_tier ON score_reports(run_id, tier);
CREATE INDEX IF NOT EXISTS idx_score_reports_agency ON score_reports(run_id, agency_id);
CREATE INDEX IF NOT EXISTS idx_calibrations_at ON calibrations(calibrated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, contracts, excluded int, degraded bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, contracts = ?, excluded = ?, degraded = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), contracts, excluded, boolToInt(degraded), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) LatestCompletedRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs
		 WHERE status = ? ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusComplete),
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs
		 ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveScores(ctx context.Context, runID string, scores []model.ScoreReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin scores tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO score_reports
		 (run_id, contract_id, agency_id, vendor_id, value, year,
		  anomaly_score, splitting_score, network_score, composite, tier, proxy_label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare score insert")
	}
	defer stmt.Close()

	for _, sc := range scores {
		_, err := stmt.ExecContext(ctx,
			runID, sc.ContractID, sc.AgencyID, sc.VendorID, sc.Value, sc.Year,
			sc.AnomalyScore, sc.SplittingScore, sc.NetworkScore, sc.Composite,
			string(sc.Tier), boolToInt(sc.ProxyLabel),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert score %s", sc.ContractID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit scores")
}

func (s *SQLiteStore) ListScores(ctx context.Context, runID string, filter ScoreFilter) ([]model.ScoreReport, error) {
	query := `SELECT contract_id, agency_id, vendor_id, value, year,
	                 anomaly_score, splitting_score, network_score, composite, tier, proxy_label
	          FROM score_reports WHERE run_id = ?`
	args := []any{runID}

	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.AgencyID != "" {
		query += ` AND agency_id = ?`
		args = append(args, filter.AgencyID)
	}
	query += ` ORDER BY composite DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scores")
	}
	defer rows.Close()

	var out []model.ScoreReport
	for rows.Next() {
		var sc model.ScoreReport
		var tier string
		var proxy int
		err := rows.Scan(&sc.ContractID, &sc.AgencyID, &sc.VendorID, &sc.Value, &sc.Year,
			&sc.AnomalyScore, &sc.SplittingScore, &sc.NetworkScore, &sc.Composite, &tier, &proxy)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		sc.Tier = model.RiskTier(tier)
		sc.ProxyLabel = proxy != 0
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scores iterate")
}

func (s *SQLiteStore) SaveAgencyReports(ctx context.Context, runID string, reports []model.AgencyReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin agency tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO agency_reports
		 (run_id, agency_id, total_value, contract_count, top_vendor_share,
		  concentration_flag, community_id, mean_composite, high_tier_count, value_at_risk)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare agency insert")
	}
	defer stmt.Close()

	for _, r := range reports {
		_, err := stmt.ExecContext(ctx,
			runID, r.AgencyID, r.TotalValue, r.ContractCount, r.TopVendorShare,
			boolToInt(r.ConcentrationFlag), r.CommunityID, r.MeanComposite,
			r.HighTierCount, r.ValueAtRisk,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert agency report %s", r.AgencyID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit agency reports")
}

func (s *SQLiteStore) ListAgencyReports(ctx context.Context, runID string) ([]model.AgencyReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agency_id, total_value, contract_count, top_vendor_share,
		        concentration_flag, community_id, mean_composite, high_tier_count, value_at_risk
		 FROM agency_reports WHERE run_id = ? ORDER BY agency_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list agency reports")
	}
	defer rows.Close()

	var out []model.AgencyReport
	for rows.Next() {
		var r model.AgencyReport
		var flag int
		err := rows.Scan(&r.AgencyID, &r.TotalValue, &r.ContractCount, &r.TopVendorShare,
			&flag, &r.CommunityID, &r.MeanComposite, &r.HighTierCount, &r.ValueAtRisk)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan agency report")
		}
		r.ConcentrationFlag = flag != 0
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list agency reports iterate")
}

func (s *SQLiteStore) SaveCalibration(ctx context.Context, b model.TierBoundaries) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calibrations
		 (id, high_boundary, medium_boundary, proxy_rate_high, proxy_rate_medium, proxy_rate_low, run_id, calibrated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), b.High, b.Medium, b.ProxyHigh, b.ProxyMedium, b.ProxyLow,
		b.RunID, b.CalibratedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save calibration")
}

func (s *SQLiteStore) LatestCalibration(ctx context.Context) (*model.TierBoundaries, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT high_boundary, medium_boundary, proxy_rate_high, proxy_rate_medium, proxy_rate_low, run_id, calibrated_at
		 FROM calibrations ORDER BY calibrated_at DESC LIMIT 1`,
	)

	var b model.TierBoundaries
	err := row.Scan(&b.High, &b.Medium, &b.ProxyHigh, &b.ProxyMedium, &b.ProxyLow, &b.RunID, &b.CalibratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest calibration")
	}
	return &b, nil
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var degraded int
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &r.Contracts, &r.Excluded, &degraded, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Degraded = degraded != 0
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}
