package model

import "time"

// AnomalyResult holds the ensemble output for one contract.
type AnomalyResult struct {
	ContractID   string  `json:"contract_id"`
	RawIsolation float64 `json:"raw_isolation"`
	RawDensity   float64 `json:"raw_density"`
	RankIso      float64 `json:"rank_isolation"` // percentile rank in [0,1]
	RankDensity  float64 `json:"rank_density"`   // percentile rank in [0,1]
	Combined     float64 `json:"combined"`       // mean of available ranks
	Degraded     bool    `json:"degraded"`
}

// SplitFlag is the splitting detector's pair-level verdict. Every contributing
// contract inherits the pair's flag.
type SplitFlag struct {
	Pair          PairKey   `json:"pair"`
	Flagged       bool      `json:"flagged"`
	ContractIDs   []string  `json:"contract_ids"`
	WindowDays    int       `json:"window_days"` // narrowest satisfied window
	WindowStart   time.Time `json:"window_start"`
	CombinedValue float64   `json:"combined_value"`
	Threshold     float64   `json:"threshold"` // threshold at the window's first contract
}

// VendorMetrics holds per-vendor network outputs.
type VendorMetrics struct {
	VendorID       string  `json:"vendor_id"`
	PageRank       float64 `json:"pagerank"`
	RankPercentile float64 `json:"rank_percentile"` // PageRank percentile in [0,1]
	CommunityID    int     `json:"community_id"`
	Degree         int     `json:"degree"`
}

// AgencyMetrics holds per-agency network outputs.
type AgencyMetrics struct {
	AgencyID          string  `json:"agency_id"`
	TotalValue        float64 `json:"total_value"`
	ContractCount     int     `json:"contract_count"`
	HHI               float64 `json:"hhi"`
	TopVendorID       string  `json:"top_vendor_id"`
	TopVendorShare    float64 `json:"top_vendor_share"`
	ConcentrationFlag bool    `json:"concentration_flag"`
	CommunityID       int     `json:"community_id"`
}

// NetworkResult bundles the network analyzer outputs.
type NetworkResult struct {
	Vendors        map[string]VendorMetrics `json:"vendors"`
	Agencies       map[string]AgencyMetrics `json:"agencies"`
	CommunityCount int                      `json:"community_count"`
	Modularity     float64                  `json:"modularity"`
	Degraded       bool                     `json:"degraded"`
}

// ScoreReport is the per-contract output surface consumed by the dashboard.
type ScoreReport struct {
	ContractID     string   `json:"contract_id"`
	AgencyID       string   `json:"agency_id"`
	VendorID       string   `json:"vendor_id"`
	Value          float64  `json:"value"`
	Year           int      `json:"year"`
	AnomalyScore   float64  `json:"anomaly_score"`
	SplittingScore float64  `json:"splitting_score"`
	NetworkScore   float64  `json:"network_score"`
	Composite      float64  `json:"composite"`
	Tier           RiskTier `json:"tier"`
	ProxyLabel     bool     `json:"proxy_label"`
}

// AgencyReport is the per-agency exposure surface consumed by the dashboard.
type AgencyReport struct {
	AgencyID          string  `json:"agency_id"`
	TotalValue        float64 `json:"total_value"`
	ContractCount     int     `json:"contract_count"`
	TopVendorShare    float64 `json:"top_vendor_share"`
	ConcentrationFlag bool    `json:"concentration_flag"`
	CommunityID       int     `json:"community_id"`
	MeanComposite     float64 `json:"mean_composite"`
	HighTierCount     int     `json:"high_tier_count"`
	ValueAtRisk       float64 `json:"value_at_risk"` // sum of High-tier contract value
}

// TierBoundaries are the frozen composite-score cut points produced by
// calibration. Scores >= High are High tier, >= Medium are Medium, else Low.
type TierBoundaries struct {
	High         float64   `json:"high" yaml:"high"`
	Medium       float64   `json:"medium" yaml:"medium"`
	ProxyHigh    float64   `json:"proxy_rate_high" yaml:"proxy_rate_high"`
	ProxyMedium  float64   `json:"proxy_rate_medium" yaml:"proxy_rate_medium"`
	ProxyLow     float64   `json:"proxy_rate_low" yaml:"proxy_rate_low"`
	CalibratedAt time.Time `json:"calibrated_at" yaml:"calibrated_at"`
	RunID        string    `json:"run_id" yaml:"run_id"`
}

// Tier classifies a composite score against the frozen boundaries.
func (b TierBoundaries) Tier(score float64) RiskTier {
	switch {
	case score >= b.High:
		return TierHigh
	case score >= b.Medium:
		return TierMedium
	default:
		return TierLow
	}
}

// FeatureDrift is one row of a drift report.
type FeatureDrift struct {
	Feature string  `json:"feature"`
	PSI     float64 `json:"psi"`
	Status  string  `json:"status"` // "stable", "monitor", "retrain"
}

// RunStatus tracks pipeline run lifecycle in the store.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one full reprocessing run.
type Run struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	Contracts  int       `json:"contracts"`
	Excluded   int       `json:"excluded"`
	Degraded   bool      `json:"degraded"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
