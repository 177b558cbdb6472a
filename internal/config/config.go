// Package config handles YAML configuration for the directquery server.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	DataSources DataSourceConfig `yaml:"datasources"`
	OTEL        OTELConfig       `yaml:"otel"`
	Log         LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DataSourceConfig holds data source settings.
type DataSourceConfig struct {
	Enabled *bool `yaml:"enabled"`

	// URIHostsDenyList holds glob host patterns, IPs and CIDR ranges that
	// outbound requests must never reach.
	URIHostsDenyList []string `yaml:"uri_hosts_denylist"`

	// URIPolicyFile is an optional Rego module defining data.directquery.allow.
	URIPolicyFile string `yaml:"uri_policy_file"`

	// CatalogFile is an optional YAML file of data sources synced into storage.
	CatalogFile string `yaml:"catalog_file"`

	StoragePath string `yaml:"storage_path"`
}

// IsEnabled reports whether data source queries are served. Defaults to true.
func (d DataSourceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings. The Prometheus endpoint is always on.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":9200"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.DataSources.StoragePath == "" {
		cfg.DataSources.StoragePath = "./directquery.db"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "directquery"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	for _, entry := range c.DataSources.URIHostsDenyList {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("datasources: uri_hosts_denylist contains an empty entry")
		}
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return fmt.Errorf("datasources: uri_hosts_denylist entry %q: %w", entry, err)
			}
		}
	}
	return nil
}
