package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chTempDir(t *testing.T) {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "auditlens.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.60, cfg.Scoring.AnomalyWeight, 0.001)
	assert.InDelta(t, 0.25, cfg.Scoring.SplittingWeight, 0.001)
	assert.InDelta(t, 0.15, cfg.Scoring.NetworkWeight, 0.001)
	assert.Equal(t, 100, cfg.Anomaly.Trees)
	assert.Equal(t, 256, cfg.Anomaly.SampleSize)
	assert.Equal(t, int64(42), cfg.Anomaly.Seed)
	assert.Equal(t, []int{30, 60, 90}, cfg.Splitting.WindowsDays)
	assert.InDelta(t, 0.10, cfg.Splitting.ProximityPct, 0.001)
	assert.InDelta(t, 0.5, cfg.Network.MajorityThreshold, 0.001)
	assert.InDelta(t, 0.85, cfg.Network.PageRankDamping, 0.001)
	assert.InDelta(t, 0.40, cfg.Calibration.TargetHigh, 0.001)
	assert.InDelta(t, 0.10, cfg.Calibration.TargetMedium, 0.001)
	assert.Equal(t, 100, cfg.Validation.Permutations)
	assert.InDelta(t, 0.10, cfg.Validation.PSIMonitor, 0.001)
	assert.InDelta(t, 0.20, cfg.Validation.PSIRetrain, 0.001)
	assert.Equal(t, "2019-01-01", cfg.Windows.TrainStart)
	assert.Equal(t, "2022-08-06", cfg.Windows.ValidEnd)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/auditlens
scoring:
  anomaly_weight: 0.5
  splitting_weight: 0.3
  network_weight: 0.2
log:
  level: debug
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.InDelta(t, 0.5, cfg.Scoring.AnomalyWeight, 0.001)
	assert.InDelta(t, 0.3, cfg.Scoring.SplittingWeight, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, []int{30, 60, 90}, cfg.Splitting.WindowsDays)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	chTempDir(t)
	t.Setenv("AUDITLENS_STORE_DRIVER", "postgres")
	t.Setenv("AUDITLENS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateWeightSum(t *testing.T) {
	chTempDir(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Scoring.AnomalyWeight = 0.9
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidateRejectsBadValues(t *testing.T) {
	chTempDir(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no splitting windows", func(c *Config) { c.Splitting.WindowsDays = nil }},
		{"negative window", func(c *Config) { c.Splitting.WindowsDays = []int{-30} }},
		{"proximity out of range", func(c *Config) { c.Splitting.ProximityPct = 1.5 }},
		{"majority threshold zero", func(c *Config) { c.Network.MajorityThreshold = 0 }},
		{"psi gates inverted", func(c *Config) { c.Validation.PSIMonitor = 0.5 }},
		{"calibration targets too large", func(c *Config) {
			c.Calibration.TargetHigh = 0.7
			c.Calibration.TargetMedium = 0.4
		}},
		{"window end before start", func(c *Config) { c.Windows.TrainEnd = "2018-01-01" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSMMLVByYear(t *testing.T) {
	s := SplittingConfig{SMMLV: map[string]float64{"2021": 908_526, "2022": 1_000_000}}
	byYear, err := s.SMMLVByYear()
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{2021: 908_526, 2022: 1_000_000}, byYear)

	s.SMMLV = map[string]float64{"not-a-year": 1}
	_, err = s.SMMLVByYear()
	assert.Error(t, err)
}

func TestWindowRanges(t *testing.T) {
	w := WindowConfig{
		TrainStart: "2019-01-01", TrainEnd: "2021-12-31",
		ValidStart: "2022-01-01", ValidEnd: "2022-08-06",
	}
	start, end, err := w.TrainRange()
	require.NoError(t, err)
	assert.True(t, end.After(start))

	vStart, vEnd, err := w.ValidRange()
	require.NoError(t, err)
	assert.True(t, vEnd.After(vStart))
	assert.True(t, vStart.After(end))
}

func TestInitLoggerBadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
