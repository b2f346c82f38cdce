package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/auditlens/auditlens/internal/model"
)

// WriteWorkbook writes both report surfaces plus the drift sheet into one
// XLSX workbook, the format the audit team circulates.
func WriteWorkbook(path string, scores []model.ScoreReport, agencies []model.AgencyReport, drift []model.FeatureDrift) error {
	f := xlsx.NewFile()

	if err := addScoreSheet(f, scores); err != nil {
		return err
	}
	if err := addAgencySheet(f, agencies); err != nil {
		return err
	}
	if len(drift) > 0 {
		if err := addDriftSheet(f, drift); err != nil {
			return err
		}
	}

	return eris.Wrapf(f.Save(path), "report: save workbook %s", path)
}

func addScoreSheet(f *xlsx.File, scores []model.ScoreReport) error {
	sheet, err := f.AddSheet("Contracts")
	if err != nil {
		return eris.Wrap(err, "report: add contracts sheet")
	}

	header := sheet.AddRow()
	for _, h := range scoreHeader {
		header.AddCell().Value = h
	}
	for _, s := range scores {
		row := sheet.AddRow()
		row.AddCell().Value = s.ContractID
		row.AddCell().Value = s.AgencyID
		row.AddCell().Value = s.VendorID
		row.AddCell().SetFloat(s.Value)
		row.AddCell().SetInt(s.Year)
		row.AddCell().SetFloat(s.AnomalyScore)
		row.AddCell().SetFloat(s.SplittingScore)
		row.AddCell().SetFloat(s.NetworkScore)
		row.AddCell().SetFloat(s.Composite)
		row.AddCell().Value = string(s.Tier)
		row.AddCell().SetBool(s.ProxyLabel)
	}
	return nil
}

func addAgencySheet(f *xlsx.File, agencies []model.AgencyReport) error {
	sheet, err := f.AddSheet("Agencies")
	if err != nil {
		return eris.Wrap(err, "report: add agencies sheet")
	}

	header := sheet.AddRow()
	for _, h := range agencyHeader {
		header.AddCell().Value = h
	}
	for _, r := range agencies {
		row := sheet.AddRow()
		row.AddCell().Value = r.AgencyID
		row.AddCell().SetFloat(r.TotalValue)
		row.AddCell().SetInt(r.ContractCount)
		row.AddCell().SetFloat(r.TopVendorShare)
		row.AddCell().SetBool(r.ConcentrationFlag)
		row.AddCell().SetInt(r.CommunityID)
		row.AddCell().SetFloat(r.MeanComposite)
		row.AddCell().SetInt(r.HighTierCount)
		row.AddCell().SetFloat(r.ValueAtRisk)
	}
	return nil
}

func addDriftSheet(f *xlsx.File, drift []model.FeatureDrift) error {
	sheet, err := f.AddSheet("Drift")
	if err != nil {
		return eris.Wrap(err, "report: add drift sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"feature", "psi", "status"} {
		header.AddCell().Value = h
	}
	for _, d := range drift {
		row := sheet.AddRow()
		row.AddCell().Value = d.Feature
		row.AddCell().SetFloat(d.PSI)
		row.AddCell().Value = d.Status
	}
	return nil
}
