package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from a TOML file with
// defaults filled in for anything the file omits.
type Config struct {
	API        APIConfig        `toml:"api"`
	Network    NetworkConfig    `toml:"network"`
	Credit     CreditConfig     `toml:"credit"`
	Reserve    ReserveConfig    `toml:"reserve"`
	Savings    SavingsConfig    `toml:"savings"`
	Automation AutomationConfig `toml:"automation"`
	Storage    StorageConfig    `toml:"storage"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// Addr returns the host:port listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NetworkConfig names the network instance.
type NetworkConfig struct {
	Name string `toml:"name"`
}

// CreditConfig holds the default terms applied to new credit lines.
type CreditConfig struct {
	PeriodLength string `toml:"period_length"` // e.g. "720h"
	GraceLength  string `toml:"grace_length"`
	DefaultLimit uint64 `toml:"default_limit"`
	FeeRate      uint64 `toml:"fee_rate"` // PPM
	MinITD       uint64 `toml:"min_itd"`  // PPM
}

// ReserveConfig configures the reserve pool and price oracle.
type ReserveConfig struct {
	TargetRTD       uint64 `toml:"target_rtd"`       // PPM
	OperatorPercent uint64 `toml:"operator_percent"` // PPM of surplus deposits
	SinkPercent     uint64 `toml:"sink_percent"`     // PPM of surplus deposits
	Sink            string `toml:"sink"`             // external sink address
	OraclePrice     string `toml:"oracle_price"`     // reserve units per credit
}

// SavingsConfig configures the savings pool.
type SavingsConfig struct {
	RewardsDuration string `toml:"rewards_duration"`
}

// AutomationConfig configures the background maintenance loop.
type AutomationConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

// StorageConfig configures on-disk persistence.
type StorageConfig struct {
	Path string `toml:"path"` // sqlite database file; empty means in-memory
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8420,
			Metrics: true,
		},
		Network: NetworkConfig{
			Name: "clearline",
		},
		Credit: CreditConfig{
			PeriodLength: "720h", // 30 days
			GraceLength:  "240h", // 10 days
			DefaultLimit: 1000,
			FeeRate:      10_000,  // 1%
			MinITD:       200_000, // 20%
		},
		Reserve: ReserveConfig{
			TargetRTD:       250_000, // 25%
			OperatorPercent: 100_000, // 10% of surplus
			SinkPercent:     0,
			OraclePrice:     "1",
		},
		Savings: SavingsConfig{
			RewardsDuration: "168h", // 7 days
		},
		Automation: AutomationConfig{
			Enabled:  true,
			Interval: "1m",
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
	}
}

// LoadConfig reads path and overlays it on the defaults. A missing file
// is not an error; a malformed one is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// PeriodLengthDuration returns the parsed default period length.
func (c CreditConfig) PeriodLengthDuration() time.Duration {
	return parseDuration(c.PeriodLength, 720*time.Hour)
}

// GraceLengthDuration returns the parsed default grace length.
func (c CreditConfig) GraceLengthDuration() time.Duration {
	return parseDuration(c.GraceLength, 240*time.Hour)
}

// RewardsDurationParsed returns the parsed reward schedule length.
func (c SavingsConfig) RewardsDurationParsed() time.Duration {
	return parseDuration(c.RewardsDuration, 168*time.Hour)
}

// IntervalDuration returns the parsed automation tick interval.
func (c AutomationConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, time.Minute)
}

// parseDuration parses a duration string, falling back to def when the
// string is empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "clearline.db"
	}
	return filepath.Join(home, ".clearline", "clearline.db")
}
