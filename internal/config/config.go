// Package config loads the application configuration from file and
// environment and initializes the global logger.
package config

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. All constants live here;
// components receive the sub-config they need and never read globals.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Anomaly     AnomalyConfig     `yaml:"anomaly" mapstructure:"anomaly"`
	Splitting   SplittingConfig   `yaml:"splitting" mapstructure:"splitting"`
	Network     NetworkConfig     `yaml:"network" mapstructure:"network"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Validation  ValidationConfig  `yaml:"validation" mapstructure:"validation"`
	Windows     WindowConfig      `yaml:"windows" mapstructure:"windows"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ScoringConfig holds the fusion weights. They must sum to 1.
type ScoringConfig struct {
	AnomalyWeight   float64 `yaml:"anomaly_weight" mapstructure:"anomaly_weight"`
	SplittingWeight float64 `yaml:"splitting_weight" mapstructure:"splitting_weight"`
	NetworkWeight   float64 `yaml:"network_weight" mapstructure:"network_weight"`
}

// AnomalyConfig configures the detector ensemble.
type AnomalyConfig struct {
	Trees      int   `yaml:"trees" mapstructure:"trees"`
	SampleSize int   `yaml:"sample_size" mapstructure:"sample_size"`
	Bins       int   `yaml:"bins" mapstructure:"bins"`
	Seed       int64 `yaml:"seed" mapstructure:"seed"`
}

// SplittingConfig configures the threshold-evasion detector. SMMLV keys are
// calendar years; they stay strings here because that is how both YAML and
// environment overrides arrive.
type SplittingConfig struct {
	WindowsDays     []int              `yaml:"windows_days" mapstructure:"windows_days"`
	ProximityPct    float64            `yaml:"proximity_pct" mapstructure:"proximity_pct"`
	SMMLV           map[string]float64 `yaml:"smmlv" mapstructure:"smmlv"`
	SMMLVMultiplier float64            `yaml:"smmlv_multiplier" mapstructure:"smmlv_multiplier"`
	TablePath       string             `yaml:"table_path" mapstructure:"table_path"`
}

// SMMLVByYear converts the string-keyed SMMLV map to year keys.
func (s SplittingConfig) SMMLVByYear() (map[int]float64, error) {
	out := make(map[int]float64, len(s.SMMLV))
	for k, v := range s.SMMLV {
		year, err := strconv.Atoi(k)
		if err != nil {
			return nil, eris.Errorf("config: invalid SMMLV year key %q", k)
		}
		out[year] = v
	}
	return out, nil
}

// NetworkConfig configures the bipartite graph analyzer.
type NetworkConfig struct {
	MajorityThreshold    float64 `yaml:"majority_threshold" mapstructure:"majority_threshold"`
	PageRankDamping      float64 `yaml:"pagerank_damping" mapstructure:"pagerank_damping"`
	PageRankTolerance    float64 `yaml:"pagerank_tolerance" mapstructure:"pagerank_tolerance"`
	CommunityRetries     int     `yaml:"community_retries" mapstructure:"community_retries"`
	EdgeChunkSize        int     `yaml:"edge_chunk_size" mapstructure:"edge_chunk_size"`
	CommunitySeed        int64   `yaml:"community_seed" mapstructure:"community_seed"`
	ModularityResolution float64 `yaml:"modularity_resolution" mapstructure:"modularity_resolution"`
}

// CalibrationConfig configures tier-boundary calibration.
type CalibrationConfig struct {
	TargetHigh   float64 `yaml:"target_high" mapstructure:"target_high"`
	TargetMedium float64 `yaml:"target_medium" mapstructure:"target_medium"`
	OutputPath   string  `yaml:"output_path" mapstructure:"output_path"`
}

// ValidationConfig configures the temporal validation suite.
type ValidationConfig struct {
	Permutations    int     `yaml:"permutations" mapstructure:"permutations"`
	TopKPct         float64 `yaml:"top_k_pct" mapstructure:"top_k_pct"`
	PSIMonitor      float64 `yaml:"psi_monitor" mapstructure:"psi_monitor"`
	PSIRetrain      float64 `yaml:"psi_retrain" mapstructure:"psi_retrain"`
	PermutationSeed int64   `yaml:"permutation_seed" mapstructure:"permutation_seed"`
}

// WindowConfig defines the leakage-safe train/validation date split.
type WindowConfig struct {
	TrainStart string `yaml:"train_start" mapstructure:"train_start"`
	TrainEnd   string `yaml:"train_end" mapstructure:"train_end"`
	ValidStart string `yaml:"valid_start" mapstructure:"valid_start"`
	ValidEnd   string `yaml:"valid_end" mapstructure:"valid_end"`
}

// ServerConfig configures the report API server.
type ServerConfig struct {
	Port      int     `yaml:"port" mapstructure:"port"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TrainRange parses the training window bounds.
func (w WindowConfig) TrainRange() (time.Time, time.Time, error) {
	return parseRange(w.TrainStart, w.TrainEnd)
}

// ValidRange parses the held-out window bounds.
func (w WindowConfig) ValidRange() (time.Time, time.Time, error) {
	return parseRange(w.ValidStart, w.ValidEnd)
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "config: parse window start %q", start)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "config: parse window end %q", end)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, eris.Errorf("config: window end %s before start %s", end, start)
	}
	return s, e, nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUDITLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "auditlens.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("scoring.anomaly_weight", 0.60)
	v.SetDefault("scoring.splitting_weight", 0.25)
	v.SetDefault("scoring.network_weight", 0.15)
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.sample_size", 256)
	v.SetDefault("anomaly.bins", 20)
	v.SetDefault("anomaly.seed", 42)
	v.SetDefault("splitting.windows_days", []int{30, 60, 90})
	v.SetDefault("splitting.proximity_pct", 0.10)
	v.SetDefault("splitting.smmlv_multiplier", 1000)
	v.SetDefault("splitting.smmlv", map[string]float64{
		"2019": 828_116,
		"2020": 877_803,
		"2021": 908_526,
		"2022": 1_000_000,
		"2023": 1_160_000,
	})
	v.SetDefault("network.majority_threshold", 0.5)
	v.SetDefault("network.pagerank_damping", 0.85)
	v.SetDefault("network.pagerank_tolerance", 1e-6)
	v.SetDefault("network.community_retries", 3)
	v.SetDefault("network.edge_chunk_size", 100_000)
	v.SetDefault("network.community_seed", 42)
	v.SetDefault("network.modularity_resolution", 1.0)
	v.SetDefault("calibration.target_high", 0.40)
	v.SetDefault("calibration.target_medium", 0.10)
	v.SetDefault("calibration.output_path", "calibration.yaml")
	v.SetDefault("validation.permutations", 100)
	v.SetDefault("validation.top_k_pct", 0.05)
	v.SetDefault("validation.psi_monitor", 0.10)
	v.SetDefault("validation.psi_retrain", 0.20)
	v.SetDefault("validation.permutation_seed", 42)
	v.SetDefault("windows.train_start", "2019-01-01")
	v.SetDefault("windows.train_end", "2021-12-31")
	v.SetDefault("windows.valid_start", "2022-01-01")
	v.SetDefault("windows.valid_end", "2022-08-06")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field invariants that viper cannot express.
func (c *Config) Validate() error {
	sum := c.Scoring.AnomalyWeight + c.Scoring.SplittingWeight + c.Scoring.NetworkWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return eris.Errorf("config: fusion weights must sum to 1.0 (got %.6f)", sum)
	}
	if c.Scoring.AnomalyWeight < 0 || c.Scoring.SplittingWeight < 0 || c.Scoring.NetworkWeight < 0 {
		return eris.New("config: fusion weights must be non-negative")
	}
	if len(c.Splitting.WindowsDays) == 0 {
		return eris.New("config: at least one splitting window is required")
	}
	for _, w := range c.Splitting.WindowsDays {
		if w <= 0 {
			return eris.Errorf("config: splitting window must be positive (got %d)", w)
		}
	}
	if c.Splitting.ProximityPct <= 0 || c.Splitting.ProximityPct >= 1 {
		return eris.Errorf("config: proximity_pct must be in (0,1) (got %g)", c.Splitting.ProximityPct)
	}
	if c.Network.MajorityThreshold <= 0 || c.Network.MajorityThreshold > 1 {
		return eris.Errorf("config: majority_threshold must be in (0,1] (got %g)", c.Network.MajorityThreshold)
	}
	if c.Validation.PSIMonitor >= c.Validation.PSIRetrain {
		return eris.Errorf("config: psi_monitor (%g) must be below psi_retrain (%g)",
			c.Validation.PSIMonitor, c.Validation.PSIRetrain)
	}
	if c.Calibration.TargetHigh+c.Calibration.TargetMedium >= 1 {
		return eris.New("config: calibration targets must leave room for the Low tier")
	}
	if _, _, err := c.Windows.TrainRange(); err != nil {
		return err
	}
	if _, _, err := c.Windows.ValidRange(); err != nil {
		return err
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
