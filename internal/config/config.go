// Package config loads engine configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Assets struct {
		USDCAddress string `yaml:"usdc_address"`
		VANAAddress string `yaml:"vana_address"`
	} `yaml:"assets"`
	Engine struct {
		ProtocolShareBps   uint64 `yaml:"protocol_share_bps"`
		CostSkimBps        uint64 `yaml:"cost_skim_bps"`
		MaxSlippageBps     uint64 `yaml:"max_slippage_bps"`
		ImpactThresholdBps uint64 `yaml:"impact_threshold_bps"`
		PoolFee            uint32 `yaml:"pool_fee"`
		EpochBlockCadence  int64  `yaml:"epoch_block_cadence"`
		DaySize            int64  `yaml:"day_size"`
		ComputeSinkAddress string `yaml:"compute_sink_address"`
		BurnAddress        string `yaml:"burn_address"`
	} `yaml:"engine"`
	Schedule struct {
		ProtocolShareCron        string `yaml:"protocol_share_cron"`
		DLPShareCron             string `yaml:"dlp_share_cron"`
		TreasuryDistributionCron string `yaml:"treasury_distribution_cron"`
	} `yaml:"schedule"`
	Feed struct {
		URL string `yaml:"url"`
	} `yaml:"feed"`
	Chain struct {
		GatewayURL string `yaml:"gateway_url"`
	} `yaml:"chain"`
	Database struct {
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"database"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
}

// defaultConfig returns the baseline configuration. Load unmarshals the
// file over it, so only keys actually present override a default; an
// explicit zero (e.g. cost_skim_bps: 0) is preserved, not replaced.
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Engine.ProtocolShareBps = 2000
	cfg.Engine.CostSkimBps = 500
	cfg.Engine.MaxSlippageBps = 200
	cfg.Engine.ImpactThresholdBps = 500
	cfg.Engine.PoolFee = 3000
	cfg.Engine.EpochBlockCadence = 7200
	cfg.Engine.DaySize = 7200
	cfg.Engine.BurnAddress = "0x000000000000000000000000000000000000dEaD"
	cfg.Schedule.ProtocolShareCron = "0 0 * * * *"
	cfg.Schedule.DLPShareCron = "0 30 * * * *"
	cfg.Schedule.TreasuryDistributionCron = "0 45 * * * *"
	cfg.Metrics.ListenAddr = ":9090"
	return cfg
}

// Load reads config from a YAML file over built-in defaults, then applies
// environment variable overrides. A missing file is not an error; env and
// defaults still apply. Malformed numeric env values are an error, not
// silently ignored.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DATABURN_USDC_ADDRESS"); v != "" {
		cfg.Assets.USDCAddress = v
	}
	if v := os.Getenv("DATABURN_VANA_ADDRESS"); v != "" {
		cfg.Assets.VANAAddress = v
	}
	if v := os.Getenv("DATABURN_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("DATABURN_CLICKHOUSE_DSN"); v != "" {
		cfg.Database.ClickhouseDSN = v
	}
	if v := os.Getenv("DATABURN_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("DATABURN_GATEWAY_URL"); v != "" {
		cfg.Chain.GatewayURL = v
	}
	if v := os.Getenv("DATABURN_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if err := overrideBps(&cfg.Engine.ProtocolShareBps, "DATABURN_PROTOCOL_SHARE_BPS"); err != nil {
		return nil, err
	}
	if err := overrideBps(&cfg.Engine.CostSkimBps, "DATABURN_COST_SKIM_BPS"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// overrideBps applies a numeric env override onto dst when the variable is
// set, including an explicit "0".
func overrideBps(dst *uint64, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	bps, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = bps
	return nil
}

// Validate checks that all required fields are set and all basis-point
// parameters are in range.
func (c *Config) Validate() error {
	if c.Assets.USDCAddress == "" {
		return fmt.Errorf("assets.usdc_address is required")
	}
	if c.Assets.VANAAddress == "" {
		return fmt.Errorf("assets.vana_address is required")
	}
	if c.Assets.USDCAddress == c.Assets.VANAAddress {
		return fmt.Errorf("assets.usdc_address and assets.vana_address must differ")
	}
	if c.Engine.ComputeSinkAddress == "" {
		return fmt.Errorf("engine.compute_sink_address is required")
	}
	for name, bps := range map[string]uint64{
		"engine.protocol_share_bps":   c.Engine.ProtocolShareBps,
		"engine.cost_skim_bps":        c.Engine.CostSkimBps,
		"engine.max_slippage_bps":     c.Engine.MaxSlippageBps,
		"engine.impact_threshold_bps": c.Engine.ImpactThresholdBps,
	} {
		if bps > 10_000 {
			return fmt.Errorf("%s must be at most 10000, got %d", name, bps)
		}
	}
	if c.Engine.EpochBlockCadence <= 0 {
		return fmt.Errorf("engine.epoch_block_cadence must be positive")
	}
	if c.Engine.DaySize <= 0 {
		return fmt.Errorf("engine.day_size must be positive")
	}
	return nil
}
