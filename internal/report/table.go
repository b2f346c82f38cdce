// Package report renders the score and agency report surfaces as console
// tables, CSV files and XLSX workbooks for the dashboard handoff.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/auditlens/auditlens/internal/model"
)

// printer formats monetary values with thousands separators so COP amounts in
// the hundreds of millions stay readable.
var printer = message.NewPrinter(language.Spanish)

// money renders a monetary value with grouping separators and no decimals.
func money(v float64) string {
	return printer.Sprintf("%.0f", v)
}

// pct renders a [0,1] fraction as a percentage.
func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// WriteScoreTable renders up to limit contracts as an aligned console table.
// Callers pass scores already ordered by composite descending.
func WriteScoreTable(w io.Writer, scores []model.ScoreReport, limit int) error {
	if limit <= 0 || limit > len(scores) {
		limit = len(scores)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tAGENCY\tVENDOR\tVALUE\tANOMALY\tSPLIT\tNETWORK\tCOMPOSITE\tTIER")
	for _, s := range scores[:limit] {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%s\n",
			s.ContractID, s.AgencyID, s.VendorID, money(s.Value),
			s.AnomalyScore, s.SplittingScore, s.NetworkScore, s.Composite, s.Tier)
	}
	return eris.Wrap(tw.Flush(), "report: flush score table")
}

// WriteAgencyTable renders the per-agency exposure table.
func WriteAgencyTable(w io.Writer, reports []model.AgencyReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENCY\tCONTRACTS\tTOTAL VALUE\tTOP VENDOR\tCONCENTRATED\tMEAN SCORE\tHIGH TIER\tVALUE AT RISK")
	for _, r := range reports {
		concentrated := ""
		if r.ConcentrationFlag {
			concentrated = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%.3f\t%d\t%s\n",
			r.AgencyID, r.ContractCount, money(r.TotalValue), pct(r.TopVendorShare),
			concentrated, r.MeanComposite, r.HighTierCount, money(r.ValueAtRisk))
	}
	return eris.Wrap(tw.Flush(), "report: flush agency table")
}
