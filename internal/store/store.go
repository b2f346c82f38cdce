// Package store persists runs, score reports, agency reports and frozen
// calibrations behind one interface with SQLite and PostgreSQL backends.
package store

import (
	"context"
	"errors"

	"github.com/auditlens/auditlens/internal/model"
)

// ErrRunNotFound reports a run ID with no matching record.
var ErrRunNotFound = errors.New("run not found")

// ScoreFilter specifies criteria for listing score reports.
type ScoreFilter struct {
	Tier     model.RiskTier `json:"tier,omitempty"`
	AgencyID string         `json:"agency_id,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scoring pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, contracts, excluded int, degraded bool) error
	FailRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	LatestCompletedRun(ctx context.Context) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Reports
	SaveScores(ctx context.Context, runID string, scores []model.ScoreReport) error
	ListScores(ctx context.Context, runID string, filter ScoreFilter) ([]model.ScoreReport, error)
	SaveAgencyReports(ctx context.Context, runID string, reports []model.AgencyReport) error
	ListAgencyReports(ctx context.Context, runID string) ([]model.AgencyReport, error)

	// Calibration
	SaveCalibration(ctx context.Context, b model.TierBoundaries) error
	LatestCalibration(ctx context.Context) (*model.TierBoundaries, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
