package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/auditlens/auditlens/internal/model"
)

var scoreHeader = []string{
	"contract_id", "agency_id", "vendor_id", "value", "year",
	"anomaly_score", "splitting_score", "network_score", "composite", "tier", "proxy_label",
}

var agencyHeader = []string{
	"agency_id", "total_value", "contract_count", "top_vendor_share",
	"concentration_flag", "community_id", "mean_composite", "high_tier_count", "value_at_risk",
}

// WriteScoreCSV writes the per-contract score report.
func WriteScoreCSV(w io.Writer, scores []model.ScoreReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(scoreHeader); err != nil {
		return eris.Wrap(err, "report: write score header")
	}
	for _, s := range scores {
		rec := []string{
			s.ContractID, s.AgencyID, s.VendorID,
			formatFloat(s.Value), strconv.Itoa(s.Year),
			formatFloat(s.AnomalyScore), formatFloat(s.SplittingScore),
			formatFloat(s.NetworkScore), formatFloat(s.Composite),
			string(s.Tier), strconv.FormatBool(s.ProxyLabel),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "report: write score row %s", s.ContractID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush score csv")
}

// WriteAgencyCSV writes the per-agency exposure report.
func WriteAgencyCSV(w io.Writer, reports []model.AgencyReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(agencyHeader); err != nil {
		return eris.Wrap(err, "report: write agency header")
	}
	for _, r := range reports {
		rec := []string{
			r.AgencyID, formatFloat(r.TotalValue), strconv.Itoa(r.ContractCount),
			formatFloat(r.TopVendorShare), strconv.FormatBool(r.ConcentrationFlag),
			strconv.Itoa(r.CommunityID), formatFloat(r.MeanComposite),
			strconv.Itoa(r.HighTierCount), formatFloat(r.ValueAtRisk),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "report: write agency row %s", r.AgencyID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush agency csv")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
