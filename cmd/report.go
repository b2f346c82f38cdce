package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/report"
	"github.com/auditlens/auditlens/internal/store"
)

var (
	reportRunID  string
	reportFormat string
	reportOutput string
	reportTier   string
	reportAgency string
	reportLimit  int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export the reports of a completed run",
	Long:  "Writes the per-contract and per-agency reports of a run (the latest completed run by default) as a terminal table, CSV files, or an XLSX workbook.",
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

		runID := reportRunID
		if runID == "" {
			run, err := st.LatestCompletedRun(ctx)
			if err != nil {
				return err
			}
			runID = run.ID
		}

		scores, err := st.ListScores(ctx, runID, store.ScoreFilter{
			Tier:     model.RiskTier(reportTier),
			AgencyID: reportAgency,
			Limit:    reportLimit,
		})
		if err != nil {
			return err
		}
		agencies, err := st.ListAgencyReports(ctx, runID)
		if err != nil {
			return err
		}

		switch reportFormat {
		case "table":
			if err := report.WriteScoreTable(os.Stdout, scores, 0); err != nil {
				return err
			}
			fmt.Println()
			return report.WriteAgencyTable(os.Stdout, agencies)
		case "csv":
			return writeCSVReports(scores, agencies)
		case "xlsx":
			path := reportOutput
			if path == "" {
				path = fmt.Sprintf("auditlens-%s.xlsx", runID)
			}
			if err := report.WriteWorkbook(path, scores, agencies, nil); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		default:
			return eris.Errorf("unknown format: %s (want table, csv or xlsx)", reportFormat)
		}
	},
}

// writeCSVReports writes contracts to stdout, or to <output> plus a derived
// -agencies.csv when an output path is set.
func writeCSVReports(scores []model.ScoreReport, agencies []model.AgencyReport) error {
	if reportOutput == "" {
		return report.WriteScoreCSV(os.Stdout, scores)
	}

	f, err := os.Create(reportOutput)
	if err != nil {
		return eris.Wrapf(err, "create %s", reportOutput)
	}
	defer f.Close() //nolint:errcheck
	if err := report.WriteScoreCSV(f, scores); err != nil {
		return err
	}

	agencyPath := agencyCSVPath(reportOutput)
	af, err := os.Create(agencyPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", agencyPath)
	}
	defer af.Close() //nolint:errcheck
	if err := report.WriteAgencyCSV(af, agencies); err != nil {
		return err
	}

	fmt.Printf("Wrote %s and %s\n", reportOutput, agencyPath)
	return nil
}

func agencyCSVPath(scorePath string) string {
	const ext = ".csv"
	base := scorePath
	if len(base) > len(ext) && base[len(base)-len(ext):] == ext {
		base = base[:len(base)-len(ext)]
	}
	return base + "-agencies" + ext
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "run ID (default: latest completed)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "output format: table, csv, xlsx")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "output path (csv, xlsx)")
	reportCmd.Flags().StringVar(&reportTier, "tier", "", "filter contracts by tier")
	reportCmd.Flags().StringVar(&reportAgency, "agency", "", "filter contracts by agency ID")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "max contracts (0 = all)")
	rootCmd.AddCommand(reportCmd)
}
