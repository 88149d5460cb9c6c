package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration, merged from the
// config file, SYNCRAIL_* environment variables, and flag overrides.
type Config struct {
	Source      SourceConfig       `mapstructure:"source"`
	Sink        SinkConfig         `mapstructure:"sink"`
	Store       StoreConfig        `mapstructure:"store"`
	Sync        SyncConfig         `mapstructure:"sync"`
	RateLimit   RateLimitConfig    `mapstructure:"rate_limit"`
	Collections []CollectionConfig `mapstructure:"collections"`
	Server      ServerConfig       `mapstructure:"server"`
	Logging     LoggingConfig      `mapstructure:"logging"`

	// CollectionsFile points at an optional YAML catalog whose entries are
	// appended to Collections at load time.
	CollectionsFile string `mapstructure:"collections_file"`
}

// SourceConfig describes the upstream API.
type SourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Auth      AuthConfig    `mapstructure:"auth"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// AuthConfig holds OAuth2 client-credentials settings for the upstream API.
// When TokenURL is empty the static Source.Token is used instead.
type AuthConfig struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// SinkConfig describes the downstream store receiving upserts.
type SinkConfig struct {
	// Type selects the sink implementation: "http", "postgres" or "discard".
	Type      string        `mapstructure:"type"`
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	Table     string        `mapstructure:"table"`
	KeyColumn string        `mapstructure:"key_column"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StoreConfig contains database configuration for the local libsql store
// backing the change cache and rate-limit state.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SyncConfig tunes one sync run.
type SyncConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	PerPage        int           `mapstructure:"per_page"`
	MaxPages       int           `mapstructure:"max_pages"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	ProgressEvery  int           `mapstructure:"progress_every"`
	Workers        int           `mapstructure:"workers"`
	FetchDetails   bool          `mapstructure:"fetch_details"`
}

// RateLimitConfig bounds outbound request rate against the upstream.
type RateLimitConfig struct {
	MaxPerSecond int           `mapstructure:"max_per_second"`
	MaxPerWindow int           `mapstructure:"max_per_window"`
	Window       time.Duration `mapstructure:"window"`

	// Floor is the lowest per-window limit a server-declared budget may
	// impose; declared values below it are clamped.
	Floor    int           `mapstructure:"floor"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// CollectionConfig describes one upstream resource collection to mirror.
// DetailPath, when set, is fetched once per changed record to enrich the
// payload; "{key}" inside it is replaced with the record id.
type CollectionConfig struct {
	Name        string            `mapstructure:"name" yaml:"name"`
	Path        string            `mapstructure:"path" yaml:"path"`
	KeyField    string            `mapstructure:"key_field" yaml:"key_field"`
	DetailPath  string            `mapstructure:"detail_path" yaml:"detail_path"`
	PerPage     int               `mapstructure:"per_page" yaml:"per_page"`
	Table       string            `mapstructure:"table" yaml:"table"`
	Params      map[string]string `mapstructure:"params" yaml:"params"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint" yaml:"fingerprint"`
}

// FingerprintConfig selects how record fingerprints are derived.
type FingerprintConfig struct {
	// Mode is "content" (canonical JSON hash) or "version" (pass through
	// Field's value).
	Mode   string   `mapstructure:"mode" yaml:"mode"`
	Field  string   `mapstructure:"field" yaml:"field"`
	Ignore []string `mapstructure:"ignore" yaml:"ignore"`
}

// ServerConfig contains HTTP status server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string        `mapstructure:"format"`
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig enables rotating file output alongside stderr.
type FileLogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// CollectionByName returns the named collection.
func (c *Config) CollectionByName(name string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return CollectionConfig{}, false
}

// Validate checks internal consistency. Presence of the upstream and sink
// endpoints is checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync.chunk_size must be positive, got %d", c.Sync.ChunkSize)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.RateLimit.MaxPerSecond <= 0 {
		return fmt.Errorf("rate_limit.max_per_second must be positive, got %d", c.RateLimit.MaxPerSecond)
	}
	if c.RateLimit.MaxPerWindow <= 0 {
		return fmt.Errorf("rate_limit.max_per_window must be positive, got %d", c.RateLimit.MaxPerWindow)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}

	switch c.Sink.Type {
	case "", "http", "postgres", "discard":
	default:
		return fmt.Errorf("sink.type must be http, postgres or discard, got %q", c.Sink.Type)
	}

	seen := make(map[string]struct{}, len(c.Collections))
	for _, col := range c.Collections {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return fmt.Errorf("collection with empty name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate collection %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(col.Path) == "" {
			return fmt.Errorf("collection %q: path is required", name)
		}
		switch col.Fingerprint.Mode {
		case "", "content":
		case "version":
			if strings.TrimSpace(col.Fingerprint.Field) == "" {
				return fmt.Errorf("collection %q: fingerprint.field is required in version mode", name)
			}
		default:
			return fmt.Errorf("collection %q: fingerprint.mode must be content or version, got %q", name, col.Fingerprint.Mode)
		}
	}

	return nil
}
