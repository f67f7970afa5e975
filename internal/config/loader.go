package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/kmoravec/querypilot/internal/orchestrator"
	"github.com/kmoravec/querypilot/internal/pager"
)

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Portal.Driver == "" {
		cfg.Portal.Driver = "sim"
	}
	if cfg.Portal.AuthBackoffSeconds == 0 {
		cfg.Portal.AuthBackoffSeconds = int(orchestrator.DefaultAuthBackoff.Seconds())
	}
	if cfg.Run.StagnationThreshold == 0 {
		cfg.Run.StagnationThreshold = orchestrator.DefaultStagnationThreshold
	}
	if cfg.Scan.PagerMaxAttempts == 0 {
		cfg.Scan.PagerMaxAttempts = pager.DefaultMaxAttempts
	}
	if cfg.Scan.PagerWaitSeconds == 0 {
		cfg.Scan.PagerWaitSeconds = int(pager.DefaultWaitDelay.Seconds())
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = "checkpoints"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}
}
