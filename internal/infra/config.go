package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Sensitive or host-local values can
// be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Simulation struct {
		DBPath        string          `yaml:"db_path"`
		MarginRatePct decimal.Decimal `yaml:"margin_rate_pct"` // e.g. 10 for 10%
		PriceLimitPct decimal.Decimal `yaml:"price_limit_pct"` // e.g. 30 for ±30%
		DeliveryRound int             `yaml:"delivery_round"`
		TurnsPerRound int             `yaml:"turns_per_round"`
		InitPrice     decimal.Decimal `yaml:"initial_futures_price"`
		InitSpotPrice decimal.Decimal `yaml:"initial_spot_price"`
		Inventory     decimal.Decimal `yaml:"inventory"`
		ReserveFunds  decimal.Decimal `yaml:"reserve_funds"`
	} `yaml:"simulation"`

	Accounts []AccountConfig `yaml:"accounts"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// AccountConfig describes one participant seeded at initialization.
type AccountConfig struct {
	Name    string          `yaml:"name"`
	Kind    string          `yaml:"kind"`
	Capital decimal.Decimal `yaml:"capital"`
	Profile string          `yaml:"profile"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	sim := &c.Simulation
	if sim.DBPath == "" {
		return fmt.Errorf("simulation db_path is required")
	}
	hundred := decimal.NewFromInt(100)
	if !sim.MarginRatePct.IsPositive() || sim.MarginRatePct.GreaterThan(hundred) {
		return fmt.Errorf("margin rate must be in (0, 100], got %s", sim.MarginRatePct)
	}
	if sim.PriceLimitPct.IsNegative() || sim.PriceLimitPct.GreaterThan(hundred) {
		return fmt.Errorf("price limit must be in [0, 100], got %s", sim.PriceLimitPct)
	}
	if sim.DeliveryRound <= 0 {
		return fmt.Errorf("delivery round must be positive")
	}
	if sim.TurnsPerRound <= 0 {
		return fmt.Errorf("turns per round must be positive")
	}
	if !sim.InitPrice.IsPositive() {
		return fmt.Errorf("initial futures price must be positive")
	}
	return nil
}

// overrideWithEnv replaces settings for which environment variables exist.
func overrideWithEnv(cfg *Config) {
	if path := os.Getenv("FUTURES_DB_PATH"); path != "" {
		cfg.Simulation.DBPath = path
	}
	if level := os.Getenv("FUTURES_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
