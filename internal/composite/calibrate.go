package composite

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/model"
)

// CalibrationError reports that no tier boundary pair satisfies the
// monotonicity invariant. Publishing non-monotone boundaries would invert the
// meaning of the tiers, so this is fatal for the calibrate command.
type CalibrationError struct {
	Candidates int
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("composite: no boundary pair with monotone proxy rates (%d candidates scanned)", e.Candidates)
}

// Calibrate scans candidate (high, medium) composite cutoffs on a percentile
// grid and picks the pair closest to the target population split whose proxy
// rates strictly decrease High > Medium > Low. The proxy label is consumed
// here and nowhere in scoring.
func Calibrate(scores []model.ScoreReport, cfg config.CalibrationConfig, runID string) (model.TierBoundaries, error) {
	n := len(scores)
	if n < 10 {
		return model.TierBoundaries{}, eris.Errorf("composite: calibration needs >=10 scored contracts (got %d)", n)
	}

	type scored struct {
		score float64
		proxy bool
	}
	desc := make([]scored, n)
	for i, s := range scores {
		desc[i] = scored{score: s.Composite, proxy: s.ProxyLabel}
	}
	sort.Slice(desc, func(i, j int) bool { return desc[i].score > desc[j].score })

	// prefix[i] = proxy positives among the top i scores
	prefix := make([]int, n+1)
	for i, s := range desc {
		prefix[i+1] = prefix[i]
		if s.proxy {
			prefix[i+1]++
		}
	}
	totalProxy := prefix[n]

	step := n / 100
	if step < 1 {
		step = 1
	}

	var (
		best      model.TierBoundaries
		bestDist  = math.Inf(1)
		found     bool
		scanCount int
	)
	for hi := step; hi < n; hi += step {
		for mid := hi + step; mid < n; mid += step {
			scanCount++
			rateHigh := float64(prefix[hi]) / float64(hi)
			rateMedium := float64(prefix[mid]-prefix[hi]) / float64(mid-hi)
			rateLow := float64(totalProxy-prefix[mid]) / float64(n-mid)
			if !(rateHigh > rateMedium && rateMedium > rateLow) {
				continue
			}

			shareHigh := float64(hi) / float64(n)
			shareMedium := float64(mid-hi) / float64(n)
			dist := math.Abs(shareHigh-cfg.TargetHigh) + math.Abs(shareMedium-cfg.TargetMedium)
			if dist < bestDist {
				bestDist = dist
				found = true
				best = model.TierBoundaries{
					High:        desc[hi-1].score,
					Medium:      desc[mid-1].score,
					ProxyHigh:   rateHigh,
					ProxyMedium: rateMedium,
					ProxyLow:    rateLow,
				}
			}
		}
	}

	if !found {
		return model.TierBoundaries{}, &CalibrationError{Candidates: scanCount}
	}

	best.CalibratedAt = time.Now().UTC()
	best.RunID = runID

	zap.L().Info("composite: calibration complete",
		zap.Float64("high_boundary", best.High),
		zap.Float64("medium_boundary", best.Medium),
		zap.Float64("proxy_rate_high", best.ProxyHigh),
		zap.Float64("proxy_rate_medium", best.ProxyMedium),
		zap.Float64("proxy_rate_low", best.ProxyLow),
	)

	return best, nil
}

// SaveBoundaries freezes calibrated boundaries to a YAML file.
func SaveBoundaries(path string, b model.TierBoundaries) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "composite: marshal boundaries")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "composite: write %s", path)
	}
	return nil
}

// LoadBoundaries reads frozen boundaries from a YAML file.
func LoadBoundaries(path string) (model.TierBoundaries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TierBoundaries{}, eris.Wrapf(err, "composite: read %s", path)
	}
	var b model.TierBoundaries
	if err := yaml.Unmarshal(data, &b); err != nil {
		return model.TierBoundaries{}, eris.Wrapf(err, "composite: parse %s", path)
	}
	if b.High < b.Medium {
		return model.TierBoundaries{}, eris.Errorf("composite: boundaries in %s are inverted", path)
	}
	return b, nil
}
