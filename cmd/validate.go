package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/pipeline"
	"github.com/auditlens/auditlens/internal/temporal"
)

var (
	validateInput string
	validateJSON  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Certify the score against the held-out time window",
	Long:  "Scores the export, then checks out-of-time precision, lift against a permutation null, per-year lift stability and feature drift between the training and held-out windows.",
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

		result, err := pipeline.New(cfg, st, table).Run(ctx, validateInput, boundaries)
		if err != nil {
			return err
		}

		train, valid := partitionScores(result)
		validation, err := temporal.NewValidator(cfg.Validation).
			Validate(ctx, train, valid, result.TrainMatrix, result.ValidMatrix)
		if err != nil {
			return err
		}
		validation.EnsembleAgreement = result.EnsembleAgreement

		if validateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(validation), "encode validation result")
		}
		return printValidation(os.Stdout, validation)
	},
}

// partitionScores splits the run's scores into the training and held-out
// windows using the matrix membership the pipeline already computed.
func partitionScores(result *pipeline.Result) (train, valid []model.ScoreReport) {
	inTrain := make(map[string]bool, result.TrainMatrix.Len())
	for _, id := range result.TrainMatrix.IDs {
		inTrain[id] = true
	}
	inValid := make(map[string]bool, result.ValidMatrix.Len())
	for _, id := range result.ValidMatrix.IDs {
		inValid[id] = true
	}

	for _, s := range result.Scores {
		switch {
		case inTrain[s.ContractID]:
			train = append(train, s)
		case inValid[s.ContractID]:
			valid = append(valid, s)
		}
	}
	return train, valid
}

func printValidation(out io.Writer, v *temporal.Result) error {
	fmt.Fprintf(out, "Precision@%d  train %.3f  valid %.3f", v.TopK, v.PrecisionTrain, v.PrecisionValid)
	if v.Regression {
		fmt.Fprint(out, "  (REGRESSION)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Lift          observed %.2f  null %.2f±%.2f  z=%.2f\n",
		v.ObservedLift, v.NullMean, v.NullStd, v.ZScore)
	fmt.Fprintf(out, "Agreement     top-K sub-model overlap %.2f\n", v.EnsembleAgreement)
	fmt.Fprintf(out, "Lift by year  range %.2f\n", v.LiftRange)
	years := make([]int, 0, len(v.LiftByYear))
	for year := range v.LiftByYear {
		years = append(years, year)
	}
	sort.Ints(years)
	for _, year := range years {
		fmt.Fprintf(out, "  %d: %.2f\n", year, v.LiftByYear[year])
	}

	unstable := 0
	for _, d := range v.Drift {
		if d.Status != "stable" {
			unstable++
		}
	}
	fmt.Fprintf(out, "Drift         %d/%d features stable\n", len(v.Drift)-unstable, len(v.Drift))
	if unstable == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  FEATURE\tPSI\tSTATUS")
	for _, d := range v.Drift {
		if d.Status != "stable" {
			fmt.Fprintf(w, "  %s\t%.4f\t%s\n", d.Feature, d.PSI, d.Status)
		}
	}
	return eris.Wrap(w.Flush(), "flush drift table")
}

func init() {
	validateCmd.Flags().StringVar(&validateInput, "input", "", "contract export CSV (required)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "emit the full result as JSON")
	_ = validateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(validateCmd)
}
