package model

// Feature indices into FeatureVector.Values. The schema is fixed: every
// contract gets exactly NumFeatures values and no entry is ever NaN. Missing
// source fields are imputed and tracked by the companion *Imputed indicators.
const (
	// Temporal group.
	FeatDurationDays = iota
	FeatSignatureLagDays
	FeatPublicationLagDays
	FeatRushQuarter
	FeatAwardMonth
	FeatAwardYear
	FeatEndOfYear
	FeatAddedDaysRatio
	FeatWeekendAward

	// Value group.
	FeatLogValue
	FeatValueSMMLV
	FeatPeerZScore
	FeatExtremeValue
	FeatValuePercentileYear
	FeatRoundValue
	FeatBelowThresholdPct
	FeatNearThreshold

	// Behavioral group.
	FeatDirectAward
	FeatModified
	FeatVendorDirectRate
	FeatVendorContractCount
	FeatVendorMeanValue
	FeatVendorAgencyCount
	FeatVendorModRate
	FeatAgencyDirectRate
	FeatAgencyModRate
	FeatVendorShareOfAgency
	FeatRepeatPairCount
	FeatCategoryDirectRate

	// Concentration group.
	FeatAgencyHHI
	FeatAgencyTopVendorShare
	FeatAgencyVendorCount
	FeatAgencyContractCount
	FeatAgencyTotalValue
	FeatVendorHHI
	FeatPairValueShare
	FeatAgencyMeanValue

	// Imputation indicators.
	FeatSignDateImputed
	FeatPublishDateImputed
	FeatDurationImputed
	FeatAddedDaysImputed
	FeatCategoryImputed
	FeatSectorImputed
	FeatDepartmentImputed
	FeatModalityImputed

	NumFeatures
)

// FeatureNames maps feature indices to stable column names used in drift
// reports and exports.
var FeatureNames = [NumFeatures]string{
	"duration_days",
	"signature_lag_days",
	"publication_lag_days",
	"rush_quarter",
	"award_month",
	"award_year",
	"end_of_year",
	"added_days_ratio",
	"weekend_award",
	"log_value",
	"value_smmlv",
	"peer_zscore",
	"extreme_value",
	"value_percentile_year",
	"round_value",
	"below_threshold_pct",
	"near_threshold",
	"direct_award",
	"modified",
	"vendor_direct_rate",
	"vendor_contract_count",
	"vendor_mean_value",
	"vendor_agency_count",
	"vendor_mod_rate",
	"agency_direct_rate",
	"agency_mod_rate",
	"vendor_share_of_agency",
	"repeat_pair_count",
	"category_direct_rate",
	"agency_hhi",
	"agency_top_vendor_share",
	"agency_vendor_count",
	"agency_contract_count",
	"agency_total_value",
	"vendor_hhi",
	"pair_value_share",
	"agency_mean_value",
	"sign_date_imputed",
	"publish_date_imputed",
	"duration_imputed",
	"added_days_imputed",
	"category_imputed",
	"sector_imputed",
	"department_imputed",
	"modality_imputed",
}

// FeatureVector is the fixed-schema derived representation of one contract.
// Read-only after construction.
type FeatureVector struct {
	ContractID string
	Values     [NumFeatures]float64
}

// Matrix is a column-aligned feature matrix over a set of contracts. Row order
// matches the contract order it was built from.
type Matrix struct {
	IDs  []string
	Rows [][]float64
}

// Column returns a copy of the j-th feature column.
func (m *Matrix) Column(j int) []float64 {
	col := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		col[i] = row[j]
	}
	return col
}

// Len returns the number of rows.
func (m *Matrix) Len() int { return len(m.Rows) }
