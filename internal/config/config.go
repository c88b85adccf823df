// Package config loads buffer pool configuration from an INI file.
package config

import (
	"time"

	"gopkg.in/ini.v1"
)

// Policy names the replacement policy selected at construction.
type Policy string

const (
	PolicyLRU   Policy = "lru"
	PolicyClock Policy = "clock"
	PolicySieve Policy = "sieve"
)

// Config is the buffer pool's external configuration surface (spec §6).
type Config struct {
	PoolSize          int    `ini:"pool_size"`
	BlockSize         int    `ini:"block_size"`
	WaitBudget        string `ini:"wait_budget"`
	WaitBudgetParsed  time.Duration
	ReplacementPolicy string `ini:"replacement_policy"`
	StatsEnabled      bool   `ini:"stats_enabled"`
	DataDir           string `ini:"data_dir"`
	LogLevel          string `ini:"log_level"`
}

// Default returns the configuration used when no INI file is supplied.
func Default() *Config {
	c := &Config{
		PoolSize:          128,
		BlockSize:         4096,
		WaitBudget:        "10s",
		ReplacementPolicy: string(PolicyLRU),
		StatsEnabled:      true,
		DataDir:           "./data",
		LogLevel:          "info",
	}
	c.WaitBudgetParsed, _ = time.ParseDuration(c.WaitBudget)
	return c
}

// Load reads a Config from an INI file at path, filling unset keys with
// Default's values.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	sec := f.Section("buffer_pool")
	if err := sec.MapTo(cfg); err != nil {
		return nil, err
	}
	if cfg.WaitBudget != "" {
		d, err := time.ParseDuration(cfg.WaitBudget)
		if err != nil {
			return nil, err
		}
		cfg.WaitBudgetParsed = d
	}
	return cfg, nil
}

func (p Policy) Valid() bool {
	switch p {
	case PolicyLRU, PolicyClock, PolicySieve:
		return true
	}
	return false
}
