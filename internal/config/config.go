// Package config loads the daemon's operator-facing settings from a YAML
// file, overlaid with a .env file and command-line flags, the way
// ChoSanghyuk-blackholedex's configs package loads config.yml with
// gopkg.in/yaml.v3.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PolicyConfig configures one channel's fee policy by channel ID, with "*"
// matching any channel not otherwise listed.
type PolicyConfig struct {
	ChanID       string `yaml:"chan_id"`
	Policy       string `yaml:"policy"` // passive | static | hive | thompson_aimd
	StaticFeePPM int64  `yaml:"static_fee_ppm,omitempty"`
}

// Config is the full closed-set of daemon options.
type Config struct {
	DBPath               string         `yaml:"db_path"`
	LightningCLIPath     string         `yaml:"lightning_cli_path"`
	FloorPPM             int64          `yaml:"floor_ppm"`
	CeilingPPM           int64          `yaml:"ceiling_ppm"`
	MinWaitTimeMinutes   int            `yaml:"min_wait_time_minutes"`
	YoungChannelDays     int            `yaml:"young_channel_days"`
	YoungChannelCapPPM   int64          `yaml:"young_channel_cap_ppm"`
	HighVolatilityThresh float64        `yaml:"high_volatility_threshold"`
	HighFailureThreshold float64        `yaml:"high_failure_threshold"`

	RebalanceEnabled      bool    `yaml:"rebalance_enabled"`
	MaxFeeRate            float64 `yaml:"rebalance_max_fee_rate"`
	MaxFeeAbsoluteSats    int64   `yaml:"rebalance_max_fee_absolute_sats"`
	MinAmountSats         int64   `yaml:"rebalance_min_amount_sats"`
	MaxAmountSats         int64   `yaml:"rebalance_max_amount_sats"`
	TargetRatio           float64 `yaml:"rebalance_target_ratio"`
	DailyBudgetSats       int64   `yaml:"rebalance_daily_budget_sats"`
	WalletReserveSats     int64   `yaml:"wallet_reserve_sats"`
	CooldownHours         int     `yaml:"rebalance_cooldown_hours"`
	RebalanceMinProfit    float64 `yaml:"rebalance_min_profit"`
	EnableKelly           bool    `yaml:"enable_kelly"`
	KellyFraction         float64 `yaml:"kelly_fraction"`

	HiveEnabled    bool   `yaml:"hive_enabled"`
	HiveEndpoint   string `yaml:"hive_endpoint"`
	RedisAddr      string `yaml:"redis_addr"`

	FlowLoopSeconds      int `yaml:"flow_loop_seconds"`
	FeeLoopSeconds       int `yaml:"fee_loop_seconds"`
	RebalanceLoopSeconds int `yaml:"rebalance_loop_seconds"`

	AdminRPCAddr    string `yaml:"admin_rpc_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	AllowedOrigin   string `yaml:"allowed_origin"`

	Policies []PolicyConfig `yaml:"policies"`
}

// Default returns the conservative out-of-the-box configuration.
func Default() Config {
	return Config{
		DBPath:               "data/revenue-ops.db",
		LightningCLIPath:     "lightning-cli",
		FloorPPM:             1,
		CeilingPPM:           2000,
		MinWaitTimeMinutes:   10,
		YoungChannelDays:     7,
		YoungChannelCapPPM:   100,
		HighVolatilityThresh: 0.5,
		HighFailureThreshold: 0.3,

		RebalanceEnabled:   true,
		MaxFeeRate:         0.005,
		MaxFeeAbsoluteSats: 1000,
		MinAmountSats:      10000,
		MaxAmountSats:      1000000,
		TargetRatio:        0.5,
		DailyBudgetSats:    50000,
		WalletReserveSats:  100000,
		CooldownHours:      4,
		RebalanceMinProfit: 0,
		EnableKelly:        false,
		KellyFraction:      1.0,

		HiveEnabled: false,

		FlowLoopSeconds:      300,
		FeeLoopSeconds:       900,
		RebalanceLoopSeconds: 600,

		AdminRPCAddr:  "127.0.0.1:9191",
		MetricsAddr:   "127.0.0.1:9192",
		AllowedOrigin: "https://your-frontend-domain.com",
	}
}

// Load reads a YAML config file over the defaults, applies a .env overlay
// (if present) for secrets that shouldn't live in the checked-in YAML, and
// finally applies command-line flag overrides from args.
func Load(path string, args []string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return cfg, fmt.Errorf("load .env overlay: %w", err)
		}
	}
	if v := os.Getenv("REVENUE_OPS_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REVENUE_OPS_HIVE_ENDPOINT"); v != "" {
		cfg.HiveEndpoint = v
	}

	fs := flag.NewFlagSet("revenue-ops", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "path to the sqlite state database")
	cliPath := fs.String("lightning-cli", cfg.LightningCLIPath, "path to the lightning-cli binary")
	adminAddr := fs.String("admin-rpc-addr", cfg.AdminRPCAddr, "bind address for the admin RPC server")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "bind address for the Prometheus metrics server")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("parse flags: %w", err)
	}
	cfg.DBPath = *dbPath
	cfg.LightningCLIPath = *cliPath
	cfg.AdminRPCAddr = *adminAddr
	cfg.MetricsAddr = *metricsAddr

	return cfg, nil
}

// MinWaitTime returns MinWaitTimeMinutes as a time.Duration.
func (c Config) MinWaitTime() time.Duration { return time.Duration(c.MinWaitTimeMinutes) * time.Minute }

// Cooldown returns CooldownHours as a time.Duration.
func (c Config) Cooldown() time.Duration { return time.Duration(c.CooldownHours) * time.Hour }

// FlowLoop returns FlowLoopSeconds as a time.Duration.
func (c Config) FlowLoop() time.Duration { return time.Duration(c.FlowLoopSeconds) * time.Second }

// FeeLoop returns FeeLoopSeconds as a time.Duration.
func (c Config) FeeLoop() time.Duration { return time.Duration(c.FeeLoopSeconds) * time.Second }

// RebalanceLoop returns RebalanceLoopSeconds as a time.Duration.
func (c Config) RebalanceLoop() time.Duration {
	return time.Duration(c.RebalanceLoopSeconds) * time.Second
}

// PolicyFor looks up the configured policy for a channel ID, falling back
// to the "*" wildcard entry, and finally "passive" if nothing matches.
func (c Config) PolicyFor(chanID string) PolicyConfig {
	var wildcard *PolicyConfig
	for i := range c.Policies {
		if c.Policies[i].ChanID == chanID {
			return c.Policies[i]
		}
		if c.Policies[i].ChanID == "*" {
			wildcard = &c.Policies[i]
		}
	}
	if wildcard != nil {
		return *wildcard
	}
	return PolicyConfig{ChanID: chanID, Policy: "passive"}
}
