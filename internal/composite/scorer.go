// Package composite fuses the three detector signals into one calibrated
// per-contract risk score and assembles the downstream report surfaces.
package composite

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/splitting"
)

// Scorer computes composite scores from frozen inputs. Scoring is pure: the
// same inputs and boundaries always produce identical reports.
type Scorer struct {
	weights   config.ScoringConfig
	tightness map[int]float64 // window days -> splitting signal strength
}

// NewScorer builds a scorer. Narrower splitting windows carry a stronger
// signal: the tightness factor steps down 0.15 per wider window, floored at
// 0.1, so the default 30/60/90 ladder maps to 1.0/0.85/0.7.
func NewScorer(weights config.ScoringConfig, splittingWindows []int) *Scorer {
	sorted := append([]int(nil), splittingWindows...)
	sort.Ints(sorted)

	tightness := make(map[int]float64, len(sorted))
	for i, w := range sorted {
		f := 1.0 - 0.15*float64(i)
		if f < 0.1 {
			f = 0.1
		}
		tightness[w] = f
	}

	return &Scorer{weights: weights, tightness: tightness}
}

// Inputs are the immutable detector outputs a scoring pass consumes.
type Inputs struct {
	Contracts []model.Contract
	Anomaly   []model.AnomalyResult
	Splitting *splitting.Result
	Network   *model.NetworkResult
}

// Score fuses the detector outputs per contract and assigns tiers against the
// frozen boundaries. Every contract must have an anomaly result.
func (s *Scorer) Score(in Inputs, boundaries model.TierBoundaries) ([]model.ScoreReport, error) {
	anomalyByID := make(map[string]float64, len(in.Anomaly))
	for _, r := range in.Anomaly {
		anomalyByID[r.ContractID] = r.Combined
	}

	reports := make([]model.ScoreReport, 0, len(in.Contracts))
	for i := range in.Contracts {
		c := &in.Contracts[i]
		anomaly, ok := anomalyByID[c.ID]
		if !ok {
			return nil, eris.Errorf("composite: contract %s has no anomaly score", c.ID)
		}

		split := s.splittingValue(c.ID, in.Splitting)
		net := s.networkValue(c, in.Network)
		score := s.weights.AnomalyWeight*anomaly +
			s.weights.SplittingWeight*split +
			s.weights.NetworkWeight*net

		reports = append(reports, model.ScoreReport{
			ContractID:     c.ID,
			AgencyID:       c.AgencyID,
			VendorID:       c.VendorID,
			Value:          c.Value,
			Year:           c.Year(),
			AnomalyScore:   anomaly,
			SplittingScore: split,
			NetworkScore:   net,
			Composite:      score,
			Tier:           boundaries.Tier(score),
			ProxyLabel:     c.ProxyLabel(),
		})
	}

	return reports, nil
}

// splittingValue derives the per-contract splitting signal from the pair-level
// flag: the tightness of the narrowest satisfied window, or 0 when unflagged.
func (s *Scorer) splittingValue(contractID string, res *splitting.Result) float64 {
	if res == nil {
		return 0
	}
	flag, ok := res.ByID[contractID]
	if !ok || !flag.Flagged {
		return 0
	}
	if f, ok := s.tightness[flag.WindowDays]; ok {
		return f
	}
	return 1
}

// networkValue derives the per-contract network signal: mostly the vendor's
// influence percentile, partly whether the awarding agency is captured by a
// single vendor.
func (s *Scorer) networkValue(c *model.Contract, res *model.NetworkResult) float64 {
	if res == nil {
		return 0
	}
	var v float64
	if vm, ok := res.Vendors[c.VendorID]; ok {
		v += 0.6 * vm.RankPercentile
	}
	if am, ok := res.Agencies[c.AgencyID]; ok && am.ConcentrationFlag {
		v += 0.4
	}
	return v
}

// AgencyReports rolls contract scores up to the per-agency exposure surface,
// joined with the network analyzer's concentration metrics.
func AgencyReports(scores []model.ScoreReport, net *model.NetworkResult) []model.AgencyReport {
	type agg struct {
		total     float64
		count     int
		composite float64
		highCount int
		atRisk    float64
	}
	byAgency := make(map[string]*agg)
	for _, r := range scores {
		a := byAgency[r.AgencyID]
		if a == nil {
			a = &agg{}
			byAgency[r.AgencyID] = a
		}
		a.total += r.Value
		a.count++
		a.composite += r.Composite
		if r.Tier == model.TierHigh {
			a.highCount++
			a.atRisk += r.Value
		}
	}

	reports := make([]model.AgencyReport, 0, len(byAgency))
	for id, a := range byAgency {
		rep := model.AgencyReport{
			AgencyID:      id,
			TotalValue:    a.total,
			ContractCount: a.count,
			MeanComposite: a.composite / float64(a.count),
			HighTierCount: a.highCount,
			ValueAtRisk:   a.atRisk,
		}
		if net != nil {
			if am, ok := net.Agencies[id]; ok {
				rep.TopVendorShare = am.TopVendorShare
				rep.ConcentrationFlag = am.ConcentrationFlag
				rep.CommunityID = am.CommunityID
			}
		}
		reports = append(reports, rep)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].AgencyID < reports[j].AgencyID })

	return reports
}
