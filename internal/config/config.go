// Package config loads and validates the agrisync YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/tarimpazar/agrisync/internal/freshness"
)

const (
	defaultCollation           = "tr"
	defaultLogLevel            = "info"
	defaultRemoteTimeout       = 8 * time.Second
	defaultMaintenanceInterval = time.Hour
	defaultRefreshInterval     = 10 * time.Minute

	defaultExchange   = "agrisync"
	defaultRoutingKey = "changes"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DatabasePath is the SQLite cache file. Defaults to
	// ~/.local/share/agrisync/cache.db. A leading "~/" is expanded.
	DatabasePath string `yaml:"database_path,omitempty"`

	// Collation is the BCP-47 language tag used for alphabetic ordering.
	// Defaults to "tr".
	Collation string `yaml:"collation,omitempty"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level,omitempty"`

	Remote      RemoteConfig      `yaml:"remote"`
	Collections CollectionsConfig `yaml:"collections"`

	// MaintenanceInterval is how often the daemon runs the retention sweep.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval,omitempty"`

	// RefreshInterval is how often the daemon re-checks freshness.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// Notify configures optional AMQP change notifications.
	// Omit the block entirely to disable them.
	Notify *NotifyConfig `yaml:"notify,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RemoteConfig points at the authoritative MongoDB deployment.
type RemoteConfig struct {
	// URI is the MongoDB connection string. Use ${VAR} to keep credentials
	// in the environment or a .env file.
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`

	// Timeout bounds every single remote call. 1s..30s, defaults to 8s.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// ChangeStreams enables the change-stream watcher in the daemon. It
	// requires a replica set.
	ChangeStreams bool `yaml:"change_streams,omitempty"`
}

// CollectionConfig holds the freshness settings of one collection.
type CollectionConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	RetentionDays int           `yaml:"retention_days"`
}

// Policy returns the freshness policy described by c.
func (c CollectionConfig) Policy() freshness.Policy {
	return freshness.Policy{MaxAge: c.MaxAge, Retention: freshness.Days(c.RetentionDays)}
}

// CollectionsConfig holds the per-collection settings.
type CollectionsConfig struct {
	Catalog  CollectionConfig `yaml:"catalog"`
	Listings CollectionConfig `yaml:"listings"`
}

// NotifyConfig holds the AMQP settings.
type NotifyConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange,omitempty"`
	// Queue optionally names a durable queue declared for an external
	// consumer such as the backend. agrisync itself never reads it.
	Queue      string `yaml:"queue,omitempty"`
	RoutingKey string `yaml:"routing_key,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "agrisync".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/agrisync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "agrisync", "config.yaml"), nil
}

// Default returns a configuration with every optional field at its default
// value and no remote set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates the configuration file at the given path. A .env
// file in the working directory or next to the config file is loaded first,
// and ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads .env files without overriding variables that are
// already set. Missing files are ignored.
func loadDotEnv(configPath string) {
	for _, p := range []string{".env", filepath.Join(filepath.Dir(configPath), ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Write validates c and saves it to path as YAML, creating the directory.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// DBPath returns DatabasePath with a leading "~/" expanded, or "" when the
// default location should be used.
func (c *Config) DBPath() (string, error) {
	p := c.DatabasePath
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		p = filepath.Join(home, rest)
	}
	return p, nil
}

// Language returns the collation tag. validate guarantees it parses.
func (c *Config) Language() language.Tag {
	return language.Make(c.Collation)
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	_ = l.UnmarshalText([]byte(c.LogLevel))
	return l
}

func (c *Config) applyDefaults() {
	if c.Collation == "" {
		c.Collation = defaultCollation
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = defaultRemoteTimeout
	}
	if c.Collections.Catalog.MaxAge == 0 {
		c.Collections.Catalog.MaxAge = 15 * time.Minute
	}
	if c.Collections.Catalog.RetentionDays == 0 {
		c.Collections.Catalog.RetentionDays = 7
	}
	if c.Collections.Listings.MaxAge == 0 {
		c.Collections.Listings.MaxAge = 6 * time.Hour
	}
	if c.Collections.Listings.RetentionDays == 0 {
		c.Collections.Listings.RetentionDays = 30
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = defaultMaintenanceInterval
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.Notify != nil {
		if c.Notify.Exchange == "" {
			c.Notify.Exchange = defaultExchange
		}
		if c.Notify.RoutingKey == "" {
			c.Notify.RoutingKey = defaultRoutingKey
		}
	}
}

// validate fills in defaults and checks that all required fields are present
// and well-formed.
func (c *Config) validate() error {
	c.applyDefaults()

	if c.Remote.URI == "" {
		return fmt.Errorf("remote.uri is required")
	}
	// Write keeps ${VAR} references, so check the expanded form.
	uri := os.ExpandEnv(c.Remote.URI)
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return fmt.Errorf("remote.uri must start with mongodb:// or mongodb+srv://")
	}
	if c.Remote.Database == "" {
		return fmt.Errorf("remote.database is required")
	}
	if c.Remote.Timeout < time.Second {
		return fmt.Errorf("remote.timeout %v is too short (minimum 1s)", c.Remote.Timeout)
	}
	if c.Remote.Timeout > 30*time.Second {
		return fmt.Errorf("remote.timeout %v is too long (maximum 30s)", c.Remote.Timeout)
	}

	for name, cc := range map[string]CollectionConfig{
		"catalog":  c.Collections.Catalog,
		"listings": c.Collections.Listings,
	} {
		if cc.MaxAge < 0 {
			return fmt.Errorf("collections.%s.max_age must be positive", name)
		}
		if cc.RetentionDays < 1 {
			return fmt.Errorf("collections.%s.retention_days must be at least 1", name)
		}
	}

	if _, err := language.Parse(c.Collation); err != nil {
		return fmt.Errorf("collation %q is not a language tag: %w", c.Collation, err)
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel)
	}

	if c.MaintenanceInterval < time.Minute {
		return fmt.Errorf("maintenance_interval %v is too short (minimum 1m)", c.MaintenanceInterval)
	}
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh_interval %v is too short (minimum 1m)", c.RefreshInterval)
	}

	if c.Notify != nil && c.Notify.URL == "" {
		return fmt.Errorf("notify.url is required when notify is configured")
	}
	if c.Telemetry != nil && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
	}

	return nil
}
