package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a cosmo_config.yaml, resolves os.environ/ references, applies
// defaults and warns about unrecognized fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML. Split from Load for tests and for
// embedding config in other tooling.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvironmentVariables(&cfg)
	resolveEnvVars(&cfg)
	setDefaults(&cfg)
	Validate(&cfg)

	return &cfg, nil
}

// applyEnvironmentVariables exports the config's environment_variables
// section into the process environment before anything else resolves.
func applyEnvironmentVariables(cfg *Config) {
	for k, v := range cfg.EnvironmentVariables {
		os.Setenv(k, ResolveEnvVar(v))
	}
}

func resolveEnvVars(cfg *Config) {
	cfg.Database.URL = ResolveEnvVar(cfg.Database.URL)
	cfg.Provider.APIKey = ResolveEnvVar(cfg.Provider.APIKey)
	cfg.Provider.APIBase = ResolveEnvVar(cfg.Provider.APIBase)
	if cfg.Redis != nil {
		cfg.Redis.Addr = ResolveEnvVar(cfg.Redis.Addr)
		cfg.Redis.Password = ResolveEnvVar(cfg.Redis.Password)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4000
	}
	if cfg.Server.ShutdownTimeoutMs == 0 {
		cfg.Server.ShutdownTimeoutMs = 10000
	}
	if cfg.Queue.TTLSeconds == 0 {
		cfg.Queue.TTLSeconds = 600
	}
	if cfg.Queue.LeaseTTLSeconds == 0 {
		cfg.Queue.LeaseTTLSeconds = 120
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.AgeBoostPerMin == 0 {
		cfg.Queue.AgeBoostPerMin = 1.0
	}
	if cfg.Queue.LoadThreshold == 0 {
		cfg.Queue.LoadThreshold = 32
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 8
	}
	if cfg.Batch.MinSize == 0 {
		cfg.Batch.MinSize = 3
	}
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 10
	}
	if cfg.Batch.WindowSeconds == 0 {
		cfg.Batch.WindowSeconds = 30
	}
	if cfg.Prompt.MaxHistory == 0 {
		cfg.Prompt.MaxHistory = 20
	}
	if cfg.Scheduler.PassIntervalMs == 0 {
		cfg.Scheduler.PassIntervalMs = 2000
	}
	if cfg.Scheduler.MappingRefreshSeconds == 0 {
		cfg.Scheduler.MappingRefreshSeconds = 300
	}
}
