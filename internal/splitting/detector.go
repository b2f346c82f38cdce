// Package splitting implements the deterministic threshold-evasion rule
// engine. A vendor-agency pair is flagged when, inside a sliding window, at
// least two contracts sit in the band just below the competitive-bidding
// threshold and their combined value would cross it.
package splitting

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/threshold"
)

// Detector evaluates splitting rules over raw contract records.
type Detector struct {
	table     *threshold.Table
	windows   []int // days, ascending
	proximity float64
}

// NewDetector creates a detector. Windows are evaluated narrowest first so a
// flagged pair reports the tightest window that satisfied the rule.
func NewDetector(table *threshold.Table, cfg config.SplittingConfig) *Detector {
	windows := append([]int(nil), cfg.WindowsDays...)
	sort.Ints(windows)
	return &Detector{
		table:     table,
		windows:   windows,
		proximity: cfg.ProximityPct,
	}
}

// bandContract is a contract that qualified for the below-threshold band,
// with the threshold valid on its own award date.
type bandContract struct {
	id        string
	value     float64
	date      time.Time
	threshold float64
}

// Result holds pair-level flags plus the contract-level inheritance map.
type Result struct {
	Pairs    map[model.PairKey]model.SplitFlag
	ByID     map[string]model.SplitFlag // contract id -> inherited pair flag
	Flagged  int
	Examined int
}

// Detect evaluates every vendor-agency pair. Threshold lookups are keyed by
// each contract's own award year: a pair straddling a year boundary uses two
// different thresholds, never a single shared one. A missing threshold-table
// year is fatal for the run.
func (d *Detector) Detect(contracts []model.Contract) (*Result, error) {
	pairs := make(map[model.PairKey][]bandContract)

	for i := range contracts {
		c := &contracts[i]
		limit, err := d.table.ForYear(c.Year())
		if err != nil {
			return nil, eris.Wrapf(err, "splitting: contract %s", c.ID)
		}
		if !d.inBand(c.Value, limit) {
			continue
		}
		key := model.PairKey{VendorID: c.VendorID, AgencyID: c.AgencyID}
		pairs[key] = append(pairs[key], bandContract{
			id:        c.ID,
			value:     c.Value,
			date:      c.AwardDate,
			threshold: limit,
		})
	}

	result := &Result{
		Pairs:    make(map[model.PairKey]model.SplitFlag),
		ByID:     make(map[string]model.SplitFlag),
		Examined: len(pairs),
	}

	for key, band := range pairs {
		sort.Slice(band, func(i, j int) bool { return band[i].date.Before(band[j].date) })
		flag := d.evaluatePair(key, band)
		if !flag.Flagged {
			continue
		}
		result.Pairs[key] = flag
		result.Flagged++
		for _, id := range flag.ContractIDs {
			result.ByID[id] = flag
		}
	}

	zap.L().Info("splitting: detection complete",
		zap.Int("pairs_examined", result.Examined),
		zap.Int("pairs_flagged", result.Flagged),
	)

	return result, nil
}

// inBand reports whether value is strictly below the threshold and within the
// proximity band. A value exactly at the threshold is excluded: the band is
// strictly below.
func (d *Detector) inBand(value, limit float64) bool {
	return value < limit && value >= limit*(1-d.proximity)
}

// evaluatePair slides each window width over the pair's in-band contracts,
// narrowest window first. The rule: >=2 in-band contracts inside one window
// whose combined value crosses the threshold valid at the window's first
// contract.
func (d *Detector) evaluatePair(key model.PairKey, band []bandContract) model.SplitFlag {
	flag := model.SplitFlag{Pair: key}
	if len(band) < 2 {
		return flag
	}

	for _, days := range d.windows {
		span := time.Duration(days) * 24 * time.Hour
		j := 0
		for i := range band {
			if j < i+1 {
				j = i + 1
			}
			for j < len(band) && band[j].date.Sub(band[i].date) <= span {
				j++
			}
			// window is band[i:j]
			if j-i < 2 {
				continue
			}
			var sum float64
			ids := make([]string, 0, j-i)
			for _, bc := range band[i:j] {
				sum += bc.value
				ids = append(ids, bc.id)
			}
			if sum > band[i].threshold {
				flag.Flagged = true
				flag.ContractIDs = ids
				flag.WindowDays = days
				flag.WindowStart = band[i].date
				flag.CombinedValue = sum
				flag.Threshold = band[i].threshold
				return flag
			}
		}
	}

	return flag
}
