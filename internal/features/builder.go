// Package features builds the fixed-schema feature matrix the detectors
// consume. Construction is fully deterministic: no randomness, no clock reads,
// and no missing values in the output. Missing source fields are imputed with
// documented defaults and tagged with companion indicator features.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/threshold"
)

// minPeerGroup is the smallest (category, year) group that gets its own
// z-score statistics; smaller groups fall back to the year-wide group.
const minPeerGroup = 5

// extremeZ is the |z| cutoff for the extreme-value flag.
const extremeZ = 3.0

// Builder derives feature vectors from raw records.
type Builder struct {
	table     *threshold.Table
	proximity float64
}

// NewBuilder creates a feature builder. proximity is the below-threshold band
// width used for the near_threshold feature (same value the splitting detector
// uses).
func NewBuilder(table *threshold.Table, proximity float64) *Builder {
	return &Builder{table: table, proximity: proximity}
}

// vendorAgg accumulates per-vendor history.
type vendorAgg struct {
	contracts int
	direct    int
	modified  int
	total     float64
	agencies  map[string]float64 // agency -> value routed there
}

// agencyAgg accumulates per-agency history.
type agencyAgg struct {
	contracts int
	direct    int
	modified  int
	total     float64
	vendors   map[string]float64 // vendor -> value received
}

// aggregates holds every group-level statistic the builder needs. Computed in
// one pass so feature emission stays O(n).
type aggregates struct {
	vendors    map[string]*vendorAgg
	agencies   map[string]*agencyAgg
	pairs      map[model.PairKey]int
	pairValue  map[model.PairKey]float64
	categories map[string]struct{ contracts, direct int }

	// log-value statistics per peer group and per year
	peerMean, peerStd map[string]float64
	yearMean, yearStd map[int]float64

	// sorted log-values per year, for percentile lookup
	yearSorted map[int][]float64

	// dataset-wide imputation defaults
	medianDuration float64
}

// Build derives one feature vector per record. Records are not reordered.
func (b *Builder) Build(records []model.RawRecord) (*model.Matrix, []model.FeatureVector, error) {
	if len(records) == 0 {
		return nil, nil, eris.New("features: no records to build from")
	}

	agg := b.aggregate(records)

	vectors := make([]model.FeatureVector, 0, len(records))
	matrix := &model.Matrix{
		IDs:  make([]string, 0, len(records)),
		Rows: make([][]float64, 0, len(records)),
	}

	for i := range records {
		fv, err := b.vector(&records[i], agg)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "features: record %s", records[i].Contract.ID)
		}
		vectors = append(vectors, fv)
		matrix.IDs = append(matrix.IDs, fv.ContractID)
		row := make([]float64, model.NumFeatures)
		copy(row, fv.Values[:])
		matrix.Rows = append(matrix.Rows, row)
	}

	zap.L().Info("features: matrix built",
		zap.Int("rows", matrix.Len()),
		zap.Int("features", model.NumFeatures),
	)

	return matrix, vectors, nil
}

func (b *Builder) aggregate(records []model.RawRecord) *aggregates {
	agg := &aggregates{
		vendors:    map[string]*vendorAgg{},
		agencies:   map[string]*agencyAgg{},
		pairs:      map[model.PairKey]int{},
		pairValue:  map[model.PairKey]float64{},
		categories: map[string]struct{ contracts, direct int }{},
		peerMean:   map[string]float64{},
		peerStd:    map[string]float64{},
		yearMean:   map[int]float64{},
		yearStd:    map[int]float64{},
		yearSorted: map[int][]float64{},
	}

	peerVals := map[string][]float64{}
	yearVals := map[int][]float64{}
	durations := make([]float64, 0, len(records))

	for i := range records {
		c := &records[i].Contract

		va := agg.vendors[c.VendorID]
		if va == nil {
			va = &vendorAgg{agencies: map[string]float64{}}
			agg.vendors[c.VendorID] = va
		}
		va.contracts++
		va.total += c.Value
		va.agencies[c.AgencyID] += c.Value
		if c.DirectAward {
			va.direct++
		}
		if c.Modified {
			va.modified++
		}

		aa := agg.agencies[c.AgencyID]
		if aa == nil {
			aa = &agencyAgg{vendors: map[string]float64{}}
			agg.agencies[c.AgencyID] = aa
		}
		aa.contracts++
		aa.total += c.Value
		aa.vendors[c.VendorID] += c.Value
		if c.DirectAward {
			aa.direct++
		}
		if c.Modified {
			aa.modified++
		}

		pair := model.PairKey{VendorID: c.VendorID, AgencyID: c.AgencyID}
		agg.pairs[pair]++
		agg.pairValue[pair] += c.Value

		cat := agg.categories[c.Category]
		cat.contracts++
		if c.DirectAward {
			cat.direct++
		}
		agg.categories[c.Category] = cat

		lv := math.Log1p(c.Value)
		peerVals[peerKey(c)] = append(peerVals[peerKey(c)], lv)
		yearVals[c.Year()] = append(yearVals[c.Year()], lv)

		if !records[i].Missing.Duration && c.DurationDays > 0 {
			durations = append(durations, float64(c.DurationDays))
		}
	}

	for key, vals := range peerVals {
		if len(vals) < minPeerGroup {
			continue
		}
		m, s := stat.MeanStdDev(vals, nil)
		agg.peerMean[key] = m
		agg.peerStd[key] = s
	}
	for year, vals := range yearVals {
		m, s := stat.MeanStdDev(vals, nil)
		agg.yearMean[year] = m
		agg.yearStd[year] = s
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		agg.yearSorted[year] = sorted
	}

	agg.medianDuration = median(durations)

	return agg
}

func (b *Builder) vector(rec *model.RawRecord, agg *aggregates) (model.FeatureVector, error) {
	c := &rec.Contract
	miss := &rec.Missing
	fv := model.FeatureVector{ContractID: c.ID}
	v := &fv.Values

	// Temporal. Imputation defaults: sign/publish dates default to the award
	// date (zero lag), duration to the dataset median, added days to zero.
	duration := float64(c.DurationDays)
	if miss.Duration || c.DurationDays <= 0 {
		duration = agg.medianDuration
		v[model.FeatDurationImputed] = 1
	}
	v[model.FeatDurationDays] = duration

	if miss.SignDate {
		v[model.FeatSignatureLagDays] = 0
		v[model.FeatSignDateImputed] = 1
	} else {
		v[model.FeatSignatureLagDays] = daysBetween(c.AwardDate, c.SignDate)
	}
	if miss.PublishDate {
		v[model.FeatPublicationLagDays] = 0
		v[model.FeatPublishDateImputed] = 1
	} else {
		v[model.FeatPublicationLagDays] = daysBetween(c.AwardDate, c.PublishDate)
	}

	v[model.FeatRushQuarter] = boolFeat(c.AwardDate.Month() >= 10)
	v[model.FeatAwardMonth] = float64(c.AwardDate.Month())
	v[model.FeatAwardYear] = float64(c.Year())
	v[model.FeatEndOfYear] = boolFeat(c.AwardDate.Month() == 12)
	v[model.FeatWeekendAward] = boolFeat(isWeekend(c.AwardDate))

	addedDays := float64(c.AddedDays)
	if miss.AddedDays {
		addedDays = 0
		v[model.FeatAddedDaysImputed] = 1
	}
	if duration > 0 {
		v[model.FeatAddedDaysRatio] = addedDays / duration
	}

	// Value.
	logValue := math.Log1p(c.Value)
	v[model.FeatLogValue] = logValue

	smmlv, err := b.table.SMMLVForYear(c.Year())
	if err != nil {
		return fv, err
	}
	v[model.FeatValueSMMLV] = c.Value / smmlv

	z := agg.peerZ(c, logValue)
	v[model.FeatPeerZScore] = z
	v[model.FeatExtremeValue] = boolFeat(math.Abs(z) > extremeZ)
	v[model.FeatValuePercentileYear] = percentileOf(agg.yearSorted[c.Year()], logValue)
	v[model.FeatRoundValue] = boolFeat(math.Mod(c.Value, 1_000_000) == 0)

	audit, err := b.table.ForYear(c.Year())
	if err != nil {
		return fv, err
	}
	if c.Value < audit {
		pctBelow := (audit - c.Value) / audit
		v[model.FeatBelowThresholdPct] = math.Min(pctBelow, 1)
		v[model.FeatNearThreshold] = boolFeat(pctBelow <= b.proximity)
	}

	// Behavioral.
	if miss.Modality {
		v[model.FeatModalityImputed] = 1
	}
	v[model.FeatDirectAward] = boolFeat(c.DirectAward)
	v[model.FeatModified] = boolFeat(c.Modified)

	va := agg.vendors[c.VendorID]
	v[model.FeatVendorDirectRate] = rate(va.direct, va.contracts)
	v[model.FeatVendorContractCount] = math.Log1p(float64(va.contracts))
	v[model.FeatVendorMeanValue] = math.Log1p(va.total / float64(va.contracts))
	v[model.FeatVendorAgencyCount] = math.Log1p(float64(len(va.agencies)))
	v[model.FeatVendorModRate] = rate(va.modified, va.contracts)

	aa := agg.agencies[c.AgencyID]
	v[model.FeatAgencyDirectRate] = rate(aa.direct, aa.contracts)
	v[model.FeatAgencyModRate] = rate(aa.modified, aa.contracts)
	if aa.total > 0 {
		v[model.FeatVendorShareOfAgency] = aa.vendors[c.VendorID] / aa.total
	}

	pair := model.PairKey{VendorID: c.VendorID, AgencyID: c.AgencyID}
	v[model.FeatRepeatPairCount] = math.Log1p(float64(agg.pairs[pair]))

	cat := agg.categories[c.Category]
	v[model.FeatCategoryDirectRate] = rate(cat.direct, cat.contracts)
	if miss.Category {
		v[model.FeatCategoryImputed] = 1
	}
	if miss.Sector {
		v[model.FeatSectorImputed] = 1
	}
	if miss.Department {
		v[model.FeatDepartmentImputed] = 1
	}

	// Concentration.
	v[model.FeatAgencyHHI] = hhi(aa.vendors, aa.total)
	topShare, _ := topVendorShare(aa.vendors, aa.total)
	v[model.FeatAgencyTopVendorShare] = topShare
	v[model.FeatAgencyVendorCount] = math.Log1p(float64(len(aa.vendors)))
	v[model.FeatAgencyContractCount] = math.Log1p(float64(aa.contracts))
	v[model.FeatAgencyTotalValue] = math.Log1p(aa.total)
	v[model.FeatVendorHHI] = hhi(va.agencies, va.total)
	if aa.total > 0 {
		v[model.FeatPairValueShare] = agg.pairValue[pair] / aa.total
	}
	v[model.FeatAgencyMeanValue] = math.Log1p(aa.total / float64(aa.contracts))

	for i, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fv, eris.Errorf("features: non-finite value for %s", model.FeatureNames[i])
		}
	}

	return fv, nil
}

// peerZ returns the log-value z-score against the (category, year) peer
// group, falling back to the year-wide group when the peer group is too small.
func (a *aggregates) peerZ(c *model.Contract, logValue float64) float64 {
	if m, ok := a.peerMean[peerKey(c)]; ok {
		if s := a.peerStd[peerKey(c)]; s > 0 {
			return (logValue - m) / s
		}
	}
	if s := a.yearStd[c.Year()]; s > 0 {
		return (logValue - a.yearMean[c.Year()]) / s
	}
	return 0
}

func peerKey(c *model.Contract) string {
	return c.Category + "|" + c.AwardDate.Format("2006")
}

// hhi computes the Herfindahl-Hirschman Index of the share map.
func hhi(shares map[string]float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, v := range shares {
		share := v / total
		sum += share * share
	}
	return sum
}

func topVendorShare(shares map[string]float64, total float64) (float64, string) {
	if total <= 0 {
		return 0, ""
	}
	var best float64
	var bestID string
	for id, v := range shares {
		if v > best || (v == best && id < bestID) {
			best = v
			bestID = id
		}
	}
	return best / total, bestID
}

// percentileOf returns the fraction of sorted values <= x.
func percentileOf(sorted []float64, x float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	n := sort.SearchFloat64s(sorted, math.Nextafter(x, math.Inf(1)))
	return float64(n) / float64(len(sorted))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func boolFeat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func daysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24.0
}

func isWeekend(t time.Time) bool {
	w := t.Weekday()
	return w == time.Saturday || w == time.Sunday
}
