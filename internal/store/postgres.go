package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/auditlens/auditlens/internal/db"
	"github.com/auditlens/auditlens/internal/model"
)

// PostgresStore implements Store using pgxpool. Score rows go in via COPY;
// agency reports use a bulk upsert so a rerun for the same run id is
// idempotent.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, status, started_at) VALUES ($1, $2, $3)`,
	"complete_run": `UPDATE runs SET status = $1, contracts = $2, excluded = $3, degraded = $4, finished_at = $5 WHERE id = $6`,
	"fail_run":     `UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`,
	"get_run":      `SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs WHERE id = $1`,
	"latest_calibration": `SELECT high_boundary, medium_boundary, proxy_rate_high, proxy_rate_medium, proxy_rate_low, run_id, calibrated_at
	                       FROM calibrations ORDER BY calibrated_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (tests use pgxmock here).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	contracts   INTEGER NOT NULL DEFAULT 0,
	excluded    INTEGER NOT NULL DEFAULT 0,
	degraded    BOOLEAN NOT NULL DEFAULT FALSE,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS score_reports (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	contract_id     TEXT NOT NULL,
	agency_id       TEXT NOT NULL,
	vendor_id       TEXT NOT NULL,
	value           DOUBLE PRECISION NOT NULL,
	year            INTEGER NOT NULL,
	anomaly_score   DOUBLE PRECISION NOT NULL,
	splitting_score DOUBLE PRECISION NOT NULL,
	network_score   DOUBLE PRECISION NOT NULL,
	composite       DOUBLE PRECISION NOT NULL,
	tier            TEXT NOT NULL,
	proxy_label     BOOLEAN NOT NULL,
	PRIMARY KEY (run_id, contract_id)
);

CREATE TABLE IF NOT EXISTS agency_reports (
	run_id             TEXT NOT NULL REFERENCES runs(id),
	agency_id          TEXT NOT NULL,
	total_value        DOUBLE PRECISION NOT NULL,
	contract_count     INTEGER NOT NULL,
	top_vendor_share   DOUBLE PRECISION NOT NULL,
	concentration_flag BOOLEAN NOT NULL,
	community_id       INTEGER NOT NULL,
	mean_composite     DOUBLE PRECISION NOT NULL,
	high_tier_count    INTEGER NOT NULL,
	value_at_risk      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, agency_id)
);

CREATE TABLE IF NOT EXISTS calibrations (
	id                TEXT PRIMARY KEY,
	high_boundary     DOUBLE PRECISION NOT NULL,
	medium_boundary   DOUBLE PRECISION NOT NULL,
	proxy_rate_high   DOUBLE PRECISION NOT NULL,
	proxy_rate_medium DOUBLE PRECISION NOT NULL,
	proxy_rate_low    DOUBLE PRECISION NOT NULL,
	run_id            TEXT NOT NULL,
	calibrated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_score_reports_tier ON score_reports(run_id, tier);
CREATE INDEX IF NOT EXISTS idx_score_reports_agency ON score_reports(run_id, agency_id);
CREATE INDEX IF NOT EXISTS idx_calibrations_at ON calibrations(calibrated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, contracts, excluded int, degraded bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, contracts = $2, excluded = $3, degraded = $4, finished_at = $5 WHERE id = $6`,
		string(model.RunStatusComplete), contracts, excluded, degraded, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`,
		string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	)
	return scanPgRun(row)
}

func (s *PostgresStore) LatestCompletedRun(ctx context.Context) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs
		 WHERE status = $1 ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusComplete),
	)
	return scanPgRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, contracts, excluded, degraded, started_at, finished_at FROM runs
		 ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var scoreColumns = []string{
	"run_id", "contract_id", "agency_id", "vendor_id", "value", "year",
	"anomaly_score", "splitting_score", "network_score", "composite", "tier", "proxy_label",
}

func (s *PostgresStore) SaveScores(ctx context.Context, runID string, scores []model.ScoreReport) error {
	rows := make([][]any, len(scores))
	for i, sc := range scores {
		rows[i] = []any{
			runID, sc.ContractID, sc.AgencyID, sc.VendorID, sc.Value, sc.Year,
			sc.AnomalyScore, sc.SplittingScore, sc.NetworkScore, sc.Composite,
			string(sc.Tier), sc.ProxyLabel,
		}
	}

	n, err := db.CopyFrom(ctx, s.pool, "score_reports", scoreColumns, rows)
	if err != nil {
		return eris.Wrapf(err, "postgres: save scores for run %s", runID)
	}
	if n != int64(len(scores)) {
		return eris.Errorf("postgres: short score insert: %d of %d rows", n, len(scores))
	}
	return nil
}

func (s *PostgresStore) ListScores(ctx context.Context, runID string, filter ScoreFilter) ([]model.ScoreReport, error) {
	query := `SELECT contract_id, agency_id, vendor_id, value, year,
	                 anomaly_score, splitting_score, network_score, composite, tier, proxy_label
	          FROM score_reports WHERE run_id = $1`
	args := []any{runID}

	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		query += ` AND tier = $2`
	}
	if filter.AgencyID != "" {
		args = append(args, filter.AgencyID)
		query += ` AND agency_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY composite DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scores")
	}
	defer rows.Close()

	var out []model.ScoreReport
	for rows.Next() {
		var sc model.ScoreReport
		var tier string
		err := rows.Scan(&sc.ContractID, &sc.AgencyID, &sc.VendorID, &sc.Value, &sc.Year,
			&sc.AnomalyScore, &sc.SplittingScore, &sc.NetworkScore, &sc.Composite, &tier, &sc.ProxyLabel)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		sc.Tier = model.RiskTier(tier)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scores iterate")
}

var agencyColumns = []string{
	"run_id", "agency_id", "total_value", "contract_count", "top_vendor_share",
	"concentration_flag", "community_id", "mean_composite", "high_tier_count", "value_at_risk",
}

func (s *PostgresStore) SaveAgencyReports(ctx context.Context, runID string, reports []model.AgencyReport) error {
	rows := make([][]any, len(reports))
	for i, r := range reports {
		rows[i] = []any{
			runID, r.AgencyID, r.TotalValue, r.ContractCount, r.TopVendorShare,
			r.ConcentrationFlag, r.CommunityID, r.MeanComposite, r.HighTierCount, r.ValueAtRisk,
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "agency_reports",
		Columns:      agencyColumns,
		ConflictKeys: []string{"run_id", "agency_id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save agency reports for run %s", runID)
}

func (s *PostgresStore) ListAgencyReports(ctx context.Context, runID string) ([]model.AgencyReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agency_id, total_value, contract_count, top_vendor_share,
		        concentration_flag, community_id, mean_composite, high_tier_count, value_at_risk
		 FROM agency_reports WHERE run_id = $1 ORDER BY agency_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list agency reports")
	}
	defer rows.Close()

	var out []model.AgencyReport
	for rows.Next() {
		var r model.AgencyReport
		err := rows.Scan(&r.AgencyID, &r.TotalValue, &r.ContractCount, &r.TopVendorShare,
			&r.ConcentrationFlag, &r.CommunityID, &r.MeanComposite, &r.HighTierCount, &r.ValueAtRisk)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan agency report")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list agency reports iterate")
}

func (s *PostgresStore) SaveCalibration(ctx context.Context, b model.TierBoundaries) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calibrations
		 (id, high_boundary, medium_boundary, proxy_rate_high, proxy_rate_medium, proxy_rate_low, run_id, calibrated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), b.High, b.Medium, b.ProxyHigh, b.ProxyMedium, b.ProxyLow,
		b.RunID, b.CalibratedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save calibration")
}

func (s *PostgresStore) LatestCalibration(ctx context.Context) (*model.TierBoundaries, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT high_boundary, medium_boundary, proxy_rate_high, proxy_rate_medium, proxy_rate_low, run_id, calibrated_at
		 FROM calibrations ORDER BY calibrated_at DESC LIMIT 1`,
	)

	var b model.TierBoundaries
	err := row.Scan(&b.High, &b.Medium, &b.ProxyHigh, &b.ProxyMedium, &b.ProxyLow, &b.RunID, &b.CalibratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest calibration")
	}
	return &b, nil
}

// helpers

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var finished *time.Time

	err := row.Scan(&r.ID, &r.Status, &r.Contracts, &r.Excluded, &r.Degraded, &r.StartedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if finished != nil {
		r.FinishedAt = *finished
	}
	return &r, nil
}
