package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditlens/auditlens/internal/composite"
	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/pipeline"
)

var calibrateInput string

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Fit tier boundaries on a contract export and freeze them",
	Long:  "Scores the export, searches for boundaries that hit the target High/Medium shares with monotone proxy-label rates, then writes the frozen calibration file and persists it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		table, err := initTable()
		if err != nil {
			return err
		}

		// Tiers in this run come from provisional boundaries; only the
		// composite scores feed the calibration search.
		provisional, err := loadBoundaries(ctx, st)
		if err != nil {
			provisional = model.TierBoundaries{High: 0.7, Medium: 0.4}
		}

		result, err := pipeline.New(cfg, st, table).Run(ctx, calibrateInput, provisional)
		if err != nil {
			return err
		}

		boundaries, err := composite.Calibrate(result.Scores, cfg.Calibration, result.Run.ID)
		if err != nil {
			return err
		}

		if err := composite.SaveBoundaries(cfg.Calibration.OutputPath, boundaries); err != nil {
			return err
		}
		if err := st.SaveCalibration(ctx, boundaries); err != nil {
			return err
		}

		zap.L().Info("calibration frozen",
			zap.String("run_id", result.Run.ID),
			zap.Float64("high", boundaries.High),
			zap.Float64("medium", boundaries.Medium),
		)

		fmt.Printf("Calibrated on %d contracts (run %s)\n", len(result.Scores), result.Run.ID)
		fmt.Printf("  High   >= %.6f  (proxy rate %.3f)\n", boundaries.High, boundaries.ProxyHigh)
		fmt.Printf("  Medium >= %.6f  (proxy rate %.3f)\n", boundaries.Medium, boundaries.ProxyMedium)
		fmt.Printf("  Low            (proxy rate %.3f)\n", boundaries.ProxyLow)
		fmt.Printf("Written to %s\n", cfg.Calibration.OutputPath)
		return nil
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateInput, "input", "", "contract export CSV (required)")
	_ = calibrateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(calibrateCmd)
}
