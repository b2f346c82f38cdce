// Package model defines the shared data types exchanged between the
// risk-scoring pipeline stages.
package model

import "time"

// Contract is a single raw procurement record as handed off by the ingestion
// collaborator. Immutable once ingested.
type Contract struct {
	ID          string    `json:"id"`
	AgencyID    string    `json:"agency_id"`
	VendorID    string    `json:"vendor_id"`
	Value       float64   `json:"value"` // COP
	AwardDate   time.Time `json:"award_date"`
	SignDate    time.Time `json:"sign_date"`
	PublishDate time.Time `json:"publish_date"`
	DirectAward bool      `json:"direct_award"`
	Modified    bool      `json:"modified"`
	Category    string    `json:"category"`

	// Enrichment columns carried through for the dashboard.
	Sector       string `json:"sector,omitempty"`
	Department   string `json:"department,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
	AddedDays    int    `json:"added_days,omitempty"`
}

// ProxyLabel reports whether the contract carries the auditor-endorsed proxy
// signal (direct award AND post-award modification). Used only for calibration
// and validation, never as a scoring input.
func (c *Contract) ProxyLabel() bool {
	return c.DirectAward && c.Modified
}

// Year returns the calendar year of the award date, which keys all
// threshold-table lookups for this contract.
func (c *Contract) Year() int {
	return c.AwardDate.Year()
}

// PairKey identifies a vendor-agency relationship.
type PairKey struct {
	VendorID string `json:"vendor_id"`
	AgencyID string `json:"agency_id"`
}

// RiskTier is the categorical audit-priority label.
type RiskTier string

const (
	TierHigh   RiskTier = "High"
	TierMedium RiskTier = "Medium"
	TierLow    RiskTier = "Low"
)
