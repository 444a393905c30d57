// Package config loads cosmo_config.yaml: server, store, queue, batch and
// provider settings, with os.environ/ references resolved from the
// environment.
package config

// Config is the top-level cosmo_config.yaml structure.
type Config struct {
	Server    ServerSettings    `yaml:"server"`
	Database  DatabaseSettings  `yaml:"database"`
	Redis     *RedisSettings    `yaml:"redis,omitempty"`
	Queue     QueueSettings     `yaml:"queue"`
	Batch     BatchSettings     `yaml:"batch"`
	Provider  ProviderSettings  `yaml:"provider"`
	Prompt    PromptSettings    `yaml:"prompt"`
	Scheduler SchedulerSettings `yaml:"scheduler"`

	// EnvironmentVariables are exported into the process environment
	// before the rest of the config is resolved.
	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty"`

	// Overflow captures unknown top-level YAML fields so older or newer
	// config files still load; each is warned about, never an error.
	Overflow map[string]any `yaml:",inline"`
}

// ServerSettings configures the HTTP gateway.
type ServerSettings struct {
	Port              int `yaml:"port"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`

	Overflow map[string]any `yaml:",inline"`
}

// DatabaseSettings configures the Postgres store. An empty URL runs the
// service on the in-memory store (single instance, non-durable).
type DatabaseSettings struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`

	Overflow map[string]any `yaml:",inline"`
}

// RedisSettings configures the shared cache and scheduler locks. Absent
// settings disable Redis; caching degrades to in-process and locks to
// single-instance operation.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`

	Overflow map[string]any `yaml:",inline"`
}

// QueueSettings tunes admission.
type QueueSettings struct {
	TTLSeconds      int     `yaml:"ttl_seconds"`
	LeaseTTLSeconds int     `yaml:"lease_ttl_seconds"`
	MaxRetries      int     `yaml:"max_retries"`
	AgeBoostPerMin  float64 `yaml:"age_boost_per_min"`
	LoadThreshold   int     `yaml:"load_threshold"`
	Workers         int     `yaml:"workers"`

	Overflow map[string]any `yaml:",inline"`
}

// BatchSettings tunes the batch coordinator.
type BatchSettings struct {
	MinSize       int      `yaml:"min_size"`
	MaxSize       int      `yaml:"max_size"`
	WindowSeconds int      `yaml:"window_seconds"`
	BatchableType []string `yaml:"batchable_types,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// ProviderSettings configures the inference provider client.
type ProviderSettings struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// PromptSettings configures prompt assembly.
type PromptSettings struct {
	DefaultPersona  string   `yaml:"default_persona,omitempty"`
	ComplianceRules []string `yaml:"compliance_rules,omitempty"`
	MaxHistory      int      `yaml:"max_history"`

	Overflow map[string]any `yaml:",inline"`
}

// SchedulerSettings tunes the background job intervals.
type SchedulerSettings struct {
	PassIntervalMs        int `yaml:"pass_interval_ms"`
	MappingRefreshSeconds int `yaml:"mapping_refresh_seconds"`

	Overflow map[string]any `yaml:",inline"`
}
