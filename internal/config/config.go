// Package config loads the YAML configuration file and the environment
// variables the service needs at startup.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig holds the Governor's three window caps.
type RateLimitConfig struct {
	OneSecond int `yaml:"1s"`
	OneMinute int `yaml:"1m"`
	OneHour   int `yaml:"1h"`
}

// CacheTTLConfig holds per-operation-class cache TTLs, in seconds.
type CacheTTLConfig struct {
	PriceSeconds      int `yaml:"price"`
	OHLCVSeconds      int `yaml:"ohlcv"`
	FinancialSeconds  int `yaml:"financial"`
	UniverseSeconds   int `yaml:"universe"`
}

func (c CacheTTLConfig) Price() time.Duration      { return time.Duration(c.PriceSeconds) * time.Second }
func (c CacheTTLConfig) OHLCV() time.Duration      { return time.Duration(c.OHLCVSeconds) * time.Second }
func (c CacheTTLConfig) Financial() time.Duration  { return time.Duration(c.FinancialSeconds) * time.Second }
func (c CacheTTLConfig) Universe() time.Duration   { return time.Duration(c.UniverseSeconds) * time.Second }

// CacheConfig wraps the TTL table.
type CacheConfig struct {
	TTLs CacheTTLConfig `yaml:"ttls"`
}

// ConcurrencyConfig bounds HTTP fan-out.
type ConcurrencyConfig struct {
	BrokerageMaxInflight int `yaml:"brokerage_max_inflight"`
}

// LegacyFilterConfig is the Phase-2 per-batch safety filter.
type LegacyFilterConfig struct {
	RiskMax        float64 `yaml:"risk_max"`
	VolumeMin      float64 `yaml:"volume_min"`
	ConfidenceMin  float64 `yaml:"confidence_min"`
	TechnicalMin   float64 `yaml:"technical_min"`
}

// VolatilityFitConfig parameterizes the pluggable "volatility fit" function.
type VolatilityFitConfig struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Scale float64 `yaml:"scale"`
}

// PriorityCalculationConfig drives batch-ordering priority.
type PriorityCalculationConfig struct {
	TechnicalW  float64             `yaml:"technical_w"`
	VolumeW     float64             `yaml:"volume_w"`
	VolatilityW float64             `yaml:"volatility_w"`
	Volatility  VolatilityFitConfig `yaml:"volatility"`
}

// CompositeWeightsConfig are the composite-score weights (distinct from the
// seven-factor weights, per §4.6's "composite priority" calculation).
type CompositeWeightsConfig struct {
	Technical  float64 `yaml:"technical"`
	Volume     float64 `yaml:"volume"`
	Risk       float64 `yaml:"risk"`
	Confidence float64 `yaml:"confidence"`
}

// TargetCountsConfig is the regime-adaptive selection size.
type TargetCountsConfig struct {
	Bullish int `yaml:"bullish"`
	Neutral int `yaml:"neutral"`
	Bearish int `yaml:"bearish"`
}

// Phase2Config configures the batch distributor and scoring pipeline.
type Phase2Config struct {
	Batches              int                       `yaml:"batches"`
	LegacyFilter         LegacyFilterConfig        `yaml:"legacy_filter"`
	PriorityCalculation  PriorityCalculationConfig `yaml:"priority_calculation"`
	CompositeWeights     CompositeWeightsConfig    `yaml:"composite_weights"`
	TargetCounts         TargetCountsConfig        `yaml:"target_counts"`
	SectorCap            int                       `yaml:"sector_cap"`
}

// KellyConfig parameterizes Kelly sizing.
type KellyConfig struct {
	Fraction float64 `yaml:"fraction"` // fractional-Kelly multiplier, e.g. 0.5
	MinTrades int    `yaml:"min_trades"`
	MinPos    float64 `yaml:"min_pos"`
	MaxPos    float64 `yaml:"max_pos"`
}

// RegimeAdjustmentsConfig are Kelly's per-regime multipliers.
type RegimeAdjustmentsConfig struct {
	Bull     float64 `yaml:"bull"`
	Sideways float64 `yaml:"sideways"`
	Bear     float64 `yaml:"bear"`
	HighVol  float64 `yaml:"high_vol"`
}

// DrawdownConfig are the ordered drawdown-response thresholds.
type DrawdownConfig struct {
	Warn      float64 `yaml:"warn"`
	Reduce    float64 `yaml:"reduce"`
	Halt      float64 `yaml:"halt"`
	CloseHalf float64 `yaml:"close_half"`
	CloseAll  float64 `yaml:"close_all"`
}

// CircuitBreakerConfig are the breaker trip conditions.
type CircuitBreakerConfig struct {
	DailyLoss     float64 `yaml:"daily_loss"`
	ConsecLosses  int     `yaml:"consec_losses"`
	ErrorSpike    int     `yaml:"error_spike"`
	MarketVol     float64 `yaml:"market_vol"`
}

// RiskConfig groups the Risk & Sizing Core's configuration.
type RiskConfig struct {
	Kelly              KellyConfig             `yaml:"kelly"`
	RegimeAdjustments  RegimeAdjustmentsConfig `yaml:"regime_adjustments"`
	Drawdown           DrawdownConfig          `yaml:"drawdown"`
	CircuitBreaker     CircuitBreakerConfig    `yaml:"circuit_breaker"`
}

// RetryConfig is the Brokerage Client's uniform retry policy.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelayMs   int           `yaml:"base_delay"`
	MaxDelayMs    int           `yaml:"max_delay"`
}

func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMs) * time.Millisecond }
func (r RetryConfig) MaxDelay() time.Duration  { return time.Duration(r.MaxDelayMs) * time.Millisecond }

// APIConfig wraps the retry policy.
type APIConfig struct {
	Retry RetryConfig `yaml:"retry"`
}

// PathsConfig anchors all on-disk artifacts.
type PathsConfig struct {
	DataRoot string `yaml:"data_root"`
}

// LoggingConfig is ambient: not in the domain key table, carried regardless.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DatabaseConfig is ambient: the SQLite file location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Config is the root of config.yaml. Unknown keys are rejected at load
// time; any key recognized but absent takes its documented default.
type Config struct {
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Cache         CacheConfig       `yaml:"cache"`
	Concurrency   ConcurrencyConfig `yaml:"concurrency"`
	Phase2        Phase2Config      `yaml:"phase2"`
	Risk          RiskConfig        `yaml:"risk"`
	API           APIConfig         `yaml:"api"`
	Paths         PathsConfig       `yaml:"paths"`
	Logging       LoggingConfig     `yaml:"logging"`
	Database      DatabaseConfig    `yaml:"database"`

	// Populated from the environment, never from YAML.
	Secrets Secrets `yaml:"-"`
}

// Secrets holds values that must never be committed to config.yaml.
type Secrets struct {
	AppKey              string
	AppSecret           string
	AccountNumber       string // 8 digits
	Environment         string // "virtual" | "prod"
	NotificationBotURL  string
	NotificationBotKey  string
	CacheBackendURL     string
	StructuredLogging   bool
	PoolSizeOverride    int
}

// Default returns the fixed, checksum-anchored defaults referenced by §4.6
// ("invariant violation falls back to safe defaults").
func Default() Config {
	return Config{
		RateLimit: RateLimitConfig{OneSecond: 5, OneMinute: 90, OneHour: 1300},
		Cache: CacheConfig{TTLs: CacheTTLConfig{
			PriceSeconds: 300, OHLCVSeconds: 600, FinancialSeconds: 21600, UniverseSeconds: 86400,
		}},
		Concurrency: ConcurrencyConfig{BrokerageMaxInflight: 10},
		Phase2: Phase2Config{
			Batches: 18,
			LegacyFilter: LegacyFilterConfig{
				RiskMax: 0.7, VolumeMin: 0.3, ConfidenceMin: 0.4, TechnicalMin: 0.3,
			},
			PriorityCalculation: PriorityCalculationConfig{
				TechnicalW: 0.5, VolumeW: 0.3, VolatilityW: 0.2,
				Volatility: VolatilityFitConfig{Min: 0.01, Max: 0.06, Scale: 1.0},
			},
			CompositeWeights: CompositeWeightsConfig{
				Technical: 0.4, Volume: 0.2, Risk: 0.2, Confidence: 0.2,
			},
			TargetCounts: TargetCountsConfig{Bullish: 12, Neutral: 8, Bearish: 5},
			SectorCap:    3,
		},
		Risk: RiskConfig{
			Kelly: KellyConfig{Fraction: 0.5, MinTrades: 30, MinPos: 0.02, MaxPos: 0.25},
			RegimeAdjustments: RegimeAdjustmentsConfig{
				Bull: 1.0, Sideways: 0.75, Bear: 0.5, HighVol: 0.3,
			},
			Drawdown: DrawdownConfig{
				Warn: 0.03, Reduce: 0.05, Halt: 0.08, CloseHalf: 0.10, CloseAll: 0.12,
			},
			CircuitBreaker: CircuitBreakerConfig{
				DailyLoss: 0.02, ConsecLosses: 5, ErrorSpike: 3, MarketVol: 0.05,
			},
		},
		API: APIConfig{Retry: RetryConfig{MaxAttempts: 3, BaseDelayMs: 500, MaxDelayMs: 8000}},
		Paths: PathsConfig{DataRoot: "./data"},
		Logging: LoggingConfig{Level: "info", Pretty: false},
		Database: DatabaseConfig{Path: "./data/trading.db"},
	}
}

// DefaultWeights are the fixed factor-weight constants §4.6 falls back to
// on checksum mismatch or invariant violation.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"momentum":        0.20,
		"value":           0.15,
		"quality":         0.15,
		"volume":          0.10,
		"volatility":      0.10,
		"technical":       0.20,
		"market_strength": 0.10,
	}
}

// Load reads config.yaml from path, merges environment-sourced secrets, and
// rejects any key not present in the Config struct.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.Secrets = loadSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func loadSecrets() Secrets {
	return Secrets{
		AppKey:             os.Getenv("BROKER_APP_KEY"),
		AppSecret:          os.Getenv("BROKER_APP_SECRET"),
		AccountNumber:      os.Getenv("BROKER_ACCOUNT_NUMBER"),
		Environment:        getEnv("BROKER_ENV", "virtual"),
		NotificationBotURL: os.Getenv("NOTIFY_BOT_URL"),
		NotificationBotKey: os.Getenv("NOTIFY_BOT_KEY"),
		CacheBackendURL:    getEnv("CACHE_BACKEND_URL", "redis://localhost:6379/0"),
		StructuredLogging:  getEnvAsBool("STRUCTURED_LOGGING", true),
		PoolSizeOverride:   getEnvAsInt("DB_POOL_SIZE", 0),
	}
}

// Validate enforces the required-secrets and key-range invariants the
// service must hold before it starts handling any job.
func (c *Config) Validate() error {
	if c.Secrets.AppKey == "" || c.Secrets.AppSecret == "" {
		return fmt.Errorf("BROKER_APP_KEY and BROKER_APP_SECRET are required")
	}
	if len(c.Secrets.AccountNumber) != 8 {
		return fmt.Errorf("BROKER_ACCOUNT_NUMBER must be 8 digits")
	}
	for _, r := range c.Secrets.AccountNumber {
		if r < '0' || r > '9' {
			return fmt.Errorf("BROKER_ACCOUNT_NUMBER must be 8 digits")
		}
	}
	if c.Secrets.Environment != "virtual" && c.Secrets.Environment != "prod" {
		return fmt.Errorf("BROKER_ENV must be 'virtual' or 'prod', got %q", c.Secrets.Environment)
	}
	if c.Paths.DataRoot == "" {
		return fmt.Errorf("paths.data_root is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
