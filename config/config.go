package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the complete trader configuration.
type Config struct {
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Storage      StorageConfig      `yaml:"storage"`
	Log          LogConfig          `yaml:"log"`
	Staking      StakingConfig      `yaml:"staking"`
	Sizing       SizingConfig       `yaml:"sizing"`
	Failsafe     FailsafeConfig     `yaml:"failsafe"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	EarlyBird    EarlyBirdConfig    `yaml:"early_bird"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Loop         LoopConfig         `yaml:"loop"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ExchangeConfig holds the exchange endpoint and credentials.
// Credentials normally come from the environment, not the YAML.
type ExchangeConfig struct {
	BaseURL        string  `yaml:"base_url"`
	AppKey         string  `yaml:"app_key"`
	Username       string  `yaml:"username"`
	Password       string  `yaml:"password"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// StorageConfig selects the backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`    // SQLite file path or ":memory:", or a postgres URL
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StakingConfig is the time-based staking schedule.
type StakingConfig struct {
	MaxStake float64      `yaml:"max_stake"` // per stake point
	Tiers    []TierConfig `yaml:"tiers"`
}

// TierConfig: at least Minutes before the race, offer Percent of the stake.
type TierConfig struct {
	Minutes float64 `yaml:"minutes"`
	Percent float64 `yaml:"percent"`
}

// SizingConfig holds the bet sizer limits.
type SizingConfig struct {
	MinStake              float64 `yaml:"min_stake"`
	FullyMatchedTolerance float64 `yaml:"fully_matched_tolerance"`
	MinLiquidity          float64 `yaml:"min_liquidity"` // size on offer needed to bet; 0 disables
}

// FailsafeConfig holds the hard per-selection ceilings.
type FailsafeConfig struct {
	MaxStakePerSelection     float64 `yaml:"max_stake_per_selection"`
	MaxLiabilityPerSelection float64 `yaml:"max_liability_per_selection"`
}

// CleanupConfig is the order staleness policy.
type CleanupConfig struct {
	StaleAfterMinutes float64 `yaml:"stale_after_minutes"`
	ImminentMinutes   float64 `yaml:"imminent_minutes"`
}

// EarlyBirdConfig controls the early-bird ladder.
type EarlyBirdConfig struct {
	Enabled           bool    `yaml:"enabled"`
	CutoffHours       float64 `yaml:"cutoff_hours"`
	MinHorizonMinutes float64 `yaml:"min_horizon_minutes"`
	TickOffsets       []int   `yaml:"tick_offsets"`
	Stake             float64 `yaml:"stake"`
}

// InvalidationConfig holds the market-change rules.
type InvalidationConfig struct {
	ShortPriceThreshold  float64 `yaml:"short_price_threshold"`
	PlaceRunnerThreshold int     `yaml:"place_runner_threshold"`
}

// LoopConfig is the control loop timing.
type LoopConfig struct {
	MaxConsecutiveErrors       int `yaml:"max_consecutive_errors"`
	MaxBackoffSeconds          int `yaml:"max_backoff_seconds"`
	ConnectivityTimeoutMinutes int `yaml:"connectivity_timeout_minutes"`
	ConnectivityPollSeconds    int `yaml:"connectivity_poll_seconds"`
	PriceConcurrency           int `yaml:"price_concurrency"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads the YAML file, applies .env and environment overrides, fills
// defaults and validates.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("EXCHANGE_APP_KEY"); v != "" {
		cfg.Exchange.AppKey = v
	}
	if v := os.Getenv("EXCHANGE_USERNAME"); v != "" {
		cfg.Exchange.Username = v
	}
	if v := os.Getenv("EXCHANGE_PASSWORD"); v != "" {
		cfg.Exchange.Password = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
}

// setDefaults fills unset values.
func setDefaults(cfg *Config) {
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "http://localhost:8080/exchange"
	}
	if cfg.Exchange.RatePerSecond <= 0 {
		cfg.Exchange.RatePerSecond = 5
	}
	if cfg.Exchange.TimeoutSeconds <= 0 {
		cfg.Exchange.TimeoutSeconds = 10
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "racebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Staking.MaxStake <= 0 {
		cfg.Staking.MaxStake = 10
	}
	if len(cfg.Staking.Tiers) == 0 {
		cfg.Staking.Tiers = []TierConfig{
			{Minutes: 15, Percent: 100},
			{Minutes: 30, Percent: 85},
			{Minutes: 60, Percent: 70},
			{Minutes: 120, Percent: 50},
			{Minutes: 360, Percent: 20},
			{Minutes: 720, Percent: 10},
		}
	}
	if cfg.Sizing.MinStake <= 0 {
		cfg.Sizing.MinStake = 1.0
	}
	if cfg.Sizing.FullyMatchedTolerance <= 0 {
		cfg.Sizing.FullyMatchedTolerance = 0.5
	}
	if cfg.Cleanup.StaleAfterMinutes <= 0 {
		cfg.Cleanup.StaleAfterMinutes = 5
	}
	if cfg.Cleanup.ImminentMinutes <= 0 {
		cfg.Cleanup.ImminentMinutes = 5
	}
	if cfg.EarlyBird.CutoffHours <= 0 {
		cfg.EarlyBird.CutoffHours = 2
	}
	if cfg.EarlyBird.MinHorizonMinutes <= 0 {
		cfg.EarlyBird.MinHorizonMinutes = 120
	}
	if len(cfg.EarlyBird.TickOffsets) == 0 {
		cfg.EarlyBird.TickOffsets = []int{2, 4, 6}
	}
	if cfg.EarlyBird.Stake <= 0 {
		cfg.EarlyBird.Stake = cfg.Sizing.MinStake
	}
	if cfg.Invalidation.ShortPriceThreshold <= 0 {
		cfg.Invalidation.ShortPriceThreshold = 12
	}
	if cfg.Invalidation.PlaceRunnerThreshold <= 0 {
		cfg.Invalidation.PlaceRunnerThreshold = 8
	}
	if cfg.Loop.MaxConsecutiveErrors <= 0 {
		cfg.Loop.MaxConsecutiveErrors = 10
	}
	if cfg.Loop.MaxBackoffSeconds <= 0 {
		cfg.Loop.MaxBackoffSeconds = 300
	}
	if cfg.Loop.ConnectivityTimeoutMinutes <= 0 {
		cfg.Loop.ConnectivityTimeoutMinutes = 10
	}
	if cfg.Loop.ConnectivityPollSeconds <= 0 {
		cfg.Loop.ConnectivityPollSeconds = 15
	}
	if cfg.Loop.PriceConcurrency <= 0 {
		cfg.Loop.PriceConcurrency = 4
	}
}

// Validate checks values that have no safe default.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: storage.driver %q (want sqlite or postgres)", ErrInvalid, c.Storage.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	if c.Sizing.MinLiquidity < 0 {
		return fmt.Errorf("%w: sizing.min_liquidity must not be negative", ErrInvalid)
	}
	if c.Failsafe.MaxStakePerSelection < 0 || c.Failsafe.MaxLiabilityPerSelection < 0 {
		return fmt.Errorf("%w: failsafe ceilings must not be negative", ErrInvalid)
	}
	for _, off := range c.EarlyBird.TickOffsets {
		if off <= 0 {
			return fmt.Errorf("%w: early_bird.tick_offsets must be positive, got %d", ErrInvalid, off)
		}
	}
	if _, err := c.StakingSchedule(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// StakingSchedule builds the domain schedule from the configured tiers.
func (c *Config) StakingSchedule() (domain.StakingSchedule, error) {
	tiers := make([]domain.StakeTier, len(c.Staking.Tiers))
	for i, t := range c.Staking.Tiers {
		tiers[i] = domain.StakeTier{Minutes: t.Minutes, Percent: t.Percent}
	}
	return domain.NewStakingSchedule(c.Staking.MaxStake, tiers)
}

// StaleAfter is the age after which entry orders are cancelled.
func (c *Config) StaleAfter() time.Duration {
	return minutes(c.Cleanup.StaleAfterMinutes)
}

// ImminentThreshold is how close to the race every automated order is cancelled.
func (c *Config) ImminentThreshold() time.Duration {
	return minutes(c.Cleanup.ImminentMinutes)
}

// EarlyBirdCutoff is how long before the race early-bird orders expire.
func (c *Config) EarlyBirdCutoff() time.Duration {
	return minutes(c.EarlyBird.CutoffHours * 60)
}

// EarlyBirdHorizon is the minimum time to race for early-bird orders.
func (c *Config) EarlyBirdHorizon() time.Duration {
	return minutes(c.EarlyBird.MinHorizonMinutes)
}

// ExchangeTimeout is the HTTP timeout for exchange calls.
func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Exchange.TimeoutSeconds) * time.Second
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
