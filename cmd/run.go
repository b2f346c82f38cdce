package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditlens/auditlens/internal/pipeline"
	"github.com/auditlens/auditlens/internal/report"
)

var (
	runInput string
	runLimit int
	runQuiet bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Score a contract export against the frozen calibration",
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

		boundaries, err := loadBoundaries(ctx, st)
		if err != nil {
			return err
		}

		result, err := pipeline.New(cfg, st, table).Run(ctx, runInput, boundaries)
		if err != nil {
			return err
		}

		if result.Degraded {
			zap.L().Warn("run completed in degraded mode", zap.String("run_id", result.Run.ID))
		}

		if runQuiet {
			fmt.Println(result.Run.ID)
			return nil
		}

		fmt.Printf("Run %s: %d contracts scored, %d excluded\n\n",
			result.Run.ID, len(result.Scores), result.Stats.Excluded)
		if err := report.WriteScoreTable(os.Stdout, result.Scores, runLimit); err != nil {
			return err
		}
		fmt.Println()
		return report.WriteAgencyTable(os.Stdout, result.Agencies)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "contract export CSV (required)")
	runCmd.Flags().IntVar(&runLimit, "limit", 25, "max contracts to print (0 = all)")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "print only the run ID")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
