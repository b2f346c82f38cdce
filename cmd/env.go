package main

import (
	"context"
	"errors"
	"io/fs"

	"github.com/rotisserie/eris"

	"github.com/auditlens/auditlens/internal/composite"
	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/store"
	"github.com/auditlens/auditlens/internal/threshold"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "auditlens.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initTable() (*threshold.Table, error) {
	if cfg.Splitting.TablePath != "" {
		return threshold.LoadFile(cfg.Splitting.TablePath)
	}
	smmlv, err := cfg.Splitting.SMMLVByYear()
	if err != nil {
		return nil, err
	}
	return threshold.New(smmlv, cfg.Splitting.SMMLVMultiplier)
}

// loadBoundaries resolves the frozen tier boundaries: the calibration file
// wins, the latest persisted calibration is the fallback.
func loadBoundaries(ctx context.Context, st store.Store) (model.TierBoundaries, error) {
	b, err := composite.LoadBoundaries(cfg.Calibration.OutputPath)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return model.TierBoundaries{}, err
	}

	stored, err := st.LatestCalibration(ctx)
	if err != nil {
		return model.TierBoundaries{}, err
	}
	if stored == nil {
		return model.TierBoundaries{}, eris.New("no calibration found, run `auditlens calibrate` first")
	}
	return *stored, nil
}
