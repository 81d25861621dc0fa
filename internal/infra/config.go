package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full configuration surface of the execution-safety
// core. Loaded from YAML, then overridden by environment variables for
// secrets.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode string `yaml:"mode"` // "PAPER" or "REAL"
	} `yaml:"trading"`

	Exchange struct {
		RestURL      string   `yaml:"rest_url"`
		APIKey       string   `yaml:"api_key"`
		APISecret    string   `yaml:"api_secret"`
		RecvWindowMS int      `yaml:"recv_window_ms"`
		Symbols      []string `yaml:"symbols"`
	} `yaml:"exchange"`

	RateLimiter struct {
		SafetyFactor       float64 `yaml:"safety_factor"`       // fraction of hard limit usable (0-1]
		EmergencyThreshold float64 `yaml:"emergency_threshold"` // usage fraction that triggers conservative mode
		UpdateIntervalSec  int     `yaml:"update_interval_sec"` // authoritative-limit resync period
		WeightLimit        int64   `yaml:"weight_limit"`        // request weight per minute
		OrderLimit         int64   `yaml:"order_limit"`         // orders per 10 seconds
	} `yaml:"rate_limiter"`

	Risk struct {
		MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
		MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"`
		MaxPositionSizeUSD  float64 `yaml:"max_position_size_usd"`
		MaxErrorRate        float64 `yaml:"max_error_rate"`
		CooldownPeriodSec   int     `yaml:"cooldown_period_sec"`
		CheckIntervalSec    int     `yaml:"check_interval_sec"`
		EmergencyTimeoutSec int     `yaml:"emergency_timeout_sec"`
	} `yaml:"risk"`

	Retry struct {
		MaxAttempts    int     `yaml:"max_attempts"`
		MinWaitMS      int     `yaml:"min_wait_ms"`
		MaxWaitMS      int     `yaml:"max_wait_ms"`
		JitterFraction float64 `yaml:"jitter_fraction"`
	} `yaml:"retry"`

	Server struct {
		Addr           string `yaml:"addr"`
		PushIntervalMS int    `yaml:"push_interval_ms"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = "PAPER"
	}
	if c.RateLimiter.SafetyFactor == 0 {
		c.RateLimiter.SafetyFactor = 0.9
	}
	if c.RateLimiter.EmergencyThreshold == 0 {
		c.RateLimiter.EmergencyThreshold = 0.95
	}
	if c.RateLimiter.UpdateIntervalSec == 0 {
		c.RateLimiter.UpdateIntervalSec = 300
	}
	if c.RateLimiter.WeightLimit == 0 {
		c.RateLimiter.WeightLimit = 1200 // Binance default per IP per minute
	}
	if c.RateLimiter.OrderLimit == 0 {
		c.RateLimiter.OrderLimit = 50 // orders per 10 seconds
	}
	if c.Risk.CooldownPeriodSec == 0 {
		c.Risk.CooldownPeriodSec = 3600
	}
	if c.Risk.CheckIntervalSec == 0 {
		c.Risk.CheckIntervalSec = 10
	}
	if c.Risk.EmergencyTimeoutSec == 0 {
		c.Risk.EmergencyTimeoutSec = 60
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.MinWaitMS == 0 {
		c.Retry.MinWaitMS = 1000
	}
	if c.Retry.MaxWaitMS == 0 {
		c.Retry.MaxWaitMS = 60000
	}
	if c.Retry.JitterFraction == 0 {
		c.Retry.JitterFraction = 0.25
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:8090"
	}
	if c.Server.PushIntervalMS == 0 {
		c.Server.PushIntervalMS = 1000
	}
	if c.Exchange.RecvWindowMS == 0 {
		c.Exchange.RecvWindowMS = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks internal consistency. A failure here is a fatal
// configuration error: the process must not start trading with it.
func (c *Config) Validate() error {
	if c.Trading.Mode != "PAPER" && c.Trading.Mode != "REAL" {
		return fmt.Errorf("trading.mode must be PAPER or REAL, got %q", c.Trading.Mode)
	}
	if c.RateLimiter.SafetyFactor <= 0 || c.RateLimiter.SafetyFactor > 1 {
		return fmt.Errorf("rate_limiter.safety_factor must be in (0,1], got %v", c.RateLimiter.SafetyFactor)
	}
	if c.RateLimiter.EmergencyThreshold < 0.5 || c.RateLimiter.EmergencyThreshold >= 1 {
		return fmt.Errorf("rate_limiter.emergency_threshold must be in [0.5,1), got %v", c.RateLimiter.EmergencyThreshold)
	}
	if c.RateLimiter.WeightLimit <= 0 || c.RateLimiter.OrderLimit <= 0 {
		return fmt.Errorf("rate_limiter limits must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MinWaitMS > c.Retry.MaxWaitMS {
		return fmt.Errorf("retry.min_wait_ms (%d) exceeds retry.max_wait_ms (%d)",
			c.Retry.MinWaitMS, c.Retry.MaxWaitMS)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0,1], got %v", c.Retry.JitterFraction)
	}
	if c.Trading.Mode == "REAL" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("REAL mode requires exchange credentials")
	}
	return nil
}

// UpdateInterval returns the limit-resync period as a Duration.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.RateLimiter.UpdateIntervalSec) * time.Second
}

// overrideWithEnv applies environment variables over file values.
// Environment takes precedence so secrets can stay out of the file.
func overrideWithEnv(cfg *Config) {
	if cfg.Exchange.APISecret != "" {
		fmt.Println("⚠️  SECURITY WARNING: API secret found in config file.")
		fmt.Println("   Recommendation: use ROBO_API_KEY / ROBO_API_SECRET instead.")
	}

	if key := os.Getenv("ROBO_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("ROBO_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if mode := os.Getenv("ROBO_TRADING_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
}
