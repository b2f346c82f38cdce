package report

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/auditlens/auditlens/internal/model"
)

func reportScores() []model.ScoreReport {
	return []model.ScoreReport{
		{
			ContractID: "CO-001", AgencyID: "AG-1", VendorID: "V-1",
			Value: 912_300_000, Year: 2022,
			AnomalyScore: 0.91, SplittingScore: 1.0, NetworkScore: 0.77,
			Composite: 0.9115, Tier: model.TierHigh, ProxyLabel: true,
		},
		{
			ContractID: "CO-002", AgencyID: "AG-2", VendorID: "V-2",
			Value: 14_000_000, Year: 2021,
			AnomalyScore: 0.12, SplittingScore: 0, NetworkScore: 0.2,
			Composite: 0.102, Tier: model.TierLow, ProxyLabel: false,
		},
	}
}

func reportAgencies() []model.AgencyReport {
	return []model.AgencyReport{
		{
			AgencyID: "AG-1", TotalValue: 912_300_000, ContractCount: 12,
			TopVendorShare: 0.82, ConcentrationFlag: true, CommunityID: 4,
			MeanComposite: 0.61, HighTierCount: 5, ValueAtRisk: 700_000_000,
		},
	}
}

func TestWriteScoreTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteScoreTable(&buf, reportScores(), 0))

	out := buf.String()
	assert.Contains(t, out, "CONTRACT")
	assert.Contains(t, out, "CO-001")
	assert.Contains(t, out, "High")
	// Grouped monetary value, Spanish-locale separators.
	assert.Contains(t, out, "912.300.000")
}

func TestWriteScoreTableLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteScoreTable(&buf, reportScores(), 1))

	assert.Contains(t, buf.String(), "CO-001")
	assert.NotContains(t, buf.String(), "CO-002")
}

func TestWriteAgencyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAgencyTable(&buf, reportAgencies()))

	out := buf.String()
	assert.Contains(t, out, "AG-1")
	assert.Contains(t, out, "82.0%")
	assert.Contains(t, out, "yes")
}

func TestWriteScoreCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteScoreCSV(&buf, reportScores()))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, scoreHeader, records[0])
	assert.Equal(t, "CO-001", records[1][0])
	assert.Equal(t, "High", records[1][9])
	assert.Equal(t, "true", records[1][10])
}

func TestWriteAgencyCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAgencyCSV(&buf, reportAgencies()))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, agencyHeader, records[0])
	assert.Equal(t, "AG-1", records[1][0])
	assert.Equal(t, "true", records[1][4])
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	drift := []model.FeatureDrift{{Feature: "log_value", PSI: 0.25, Status: "retrain"}}

	require.NoError(t, WriteWorkbook(path, reportScores(), reportAgencies(), drift))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "Contracts", f.Sheets[0].Name)
	assert.Equal(t, "Agencies", f.Sheets[1].Name)
	assert.Equal(t, "Drift", f.Sheets[2].Name)
	// Header plus two score rows.
	assert.Len(t, f.Sheets[0].Rows, 3)
	assert.Equal(t, "CO-001", f.Sheets[0].Rows[1].Cells[0].Value)
}
