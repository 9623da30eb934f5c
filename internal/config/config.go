// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Storage       StorageConfig       `yaml:"storage"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Rules         RulesConfig         `yaml:"rules"`
	SLA           SLAConfig           `yaml:"sla"`
	Bus           BusConfig           `yaml:"bus"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IdentityConfig describes bearer-token verification settings.
type IdentityConfig struct {
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	SigningKeyEnv string `yaml:"signing_key_env"`
}

// StorageConfig describes process/task persistence settings.
type StorageConfig struct {
	Driver          string        `yaml:"driver"` // "postgres" or "memory"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int           `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IdempotencyConfig describes the start-process deduplication store.
type IdempotencyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"` // "redis" or "memory"
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// RulesConfig describes where rewrite rules are loaded from.
type RulesConfig struct {
	Source         string        `yaml:"source"` // "file" or "postgres"
	Path           string        `yaml:"path"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// SLAConfig describes the compliance sweep.
type SLAConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	AtRiskWindow  time.Duration `yaml:"at_risk_window"`
}

// BusConfig describes the event bus and its optional NATS mirror.
type BusConfig struct {
	HistoryCapacity int        `yaml:"history_capacity"`
	NATS            NATSConfig `yaml:"nats"`
}

// NATSConfig describes the JetStream event forwarder.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // "otlp" or "stdout"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			SigningKeyEnv: "WAYPOINT_JWT_SIGNING_KEY",
		},
		Storage: StorageConfig{
			Driver:          "memory",
			DSNEnv:          "WAYPOINT_DATABASE_URL",
			MaxConns:        25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Driver:     "memory",
			AddrEnv:    "WAYPOINT_REDIS_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Rules: RulesConfig{
			Source:         "file",
			Path:           "/rules/rules.yaml",
			ReloadInterval: 60 * time.Second,
		},
		SLA: SLAConfig{
			SweepInterval: 60 * time.Second,
			AtRiskWindow:  15 * time.Minute,
		},
		Bus: BusConfig{
			HistoryCapacity: 1000,
			NATS: NATSConfig{
				Stream:        "WAYPOINT_EVENTS",
				SubjectPrefix: "events",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.Rules.Source {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("rules.source %q is not supported", c.Rules.Source))
	}
	if c.Rules.Source == "file" && c.Rules.Path == "" {
		errs = append(errs, "rules.path is required when rules.source is file")
	}
	if c.Bus.HistoryCapacity < 1 {
		errs = append(errs, "bus.history_capacity must be positive")
	}
	if c.SLA.AtRiskWindow <= 0 {
		errs = append(errs, "sla.at_risk_window must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads WAYPOINT_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAYPOINT_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WAYPOINT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("WAYPOINT_RULES_SOURCE"); v != "" {
		cfg.Rules.Source = v
	}
	if v := os.Getenv("WAYPOINT_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("WAYPOINT_NATS_URL"); v != "" {
		cfg.Bus.NATS.URL = v
		cfg.Bus.NATS.Enabled = true
	}
	if v := os.Getenv("WAYPOINT_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
