// Package config handles configuration loading and validation for warren.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendFlatfile = "flatfile"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Cache kinds.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds the application configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Lock      LockConfig      `yaml:"lock"`
	Limits    LimitsConfig    `yaml:"limits"`
	Retention RetentionConfig `yaml:"retention"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	DataDir   string          `yaml:"-"` // set by caller, not from config file
}

// BackendConfig selects and locates the storage backend.
type BackendConfig struct {
	Kind string `yaml:"kind"`
	// Path is the SQLite database file. Defaults to <data_dir>/warren.db.
	Path string `yaml:"path"`
	// URL is the PostgreSQL connection string.
	URL string `yaml:"url"`
	// LockConns caps the PostgreSQL connections pinned by held locks.
	LockConns int32 `yaml:"lock_conns"`
}

// CacheConfig selects the read cache.
type CacheConfig struct {
	Kind     string        `yaml:"kind"`
	TTL      time.Duration `yaml:"ttl"`
	RedisURL string        `yaml:"redis_url"`
}

// LockConfig tunes advisory lock waiting.
type LockConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Lease bounds how long a SQLite lock outlives a crashed holder.
	Lease time.Duration `yaml:"lease"`
}

// LimitsConfig holds input bounds.
type LimitsConfig struct {
	MaxChannelNameLength int `yaml:"max_channel_name_length"`
	MaxDescriptionLength int `yaml:"max_description_length"`
	MaxMessageLength     int `yaml:"max_message_length"`
	MaxFilesPerChannel   int `yaml:"max_files_per_channel"`
	SearchLimit          int `yaml:"search_limit"`
}

// RetentionConfig holds the maintenance thresholds.
type RetentionConfig struct {
	MessageMaxAge       time.Duration `yaml:"message_max_age"`
	ProcessingTimeout   time.Duration `yaml:"processing_timeout"`
	AgentTimeout        time.Duration `yaml:"agent_timeout"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// ServerConfig configures the maintenance server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Kind:      BackendFlatfile,
			LockConns: 32,
		},
		Cache: CacheConfig{
			Kind: CacheMemory,
			TTL:  30 * time.Second,
		},
		Lock: LockConfig{
			Timeout:      5 * time.Second,
			PollInterval: 100 * time.Millisecond,
			Lease:        time.Minute,
		},
		Limits: LimitsConfig{
			MaxChannelNameLength: 100,
			MaxDescriptionLength: 500,
			MaxMessageLength:     1000,
			MaxFilesPerChannel:   100,
			SearchLimit:          100,
		},
		Retention: RetentionConfig{
			MessageMaxAge:       30 * 24 * time.Hour,
			ProcessingTimeout:   60 * time.Second,
			AgentTimeout:        5 * time.Minute,
			MaintenanceInterval: time.Minute,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:9464",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "warren",
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Backend.Kind == "" {
		c.Backend.Kind = defaults.Backend.Kind
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = defaults.Cache.Kind
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaults.Cache.TTL
	}
	if c.Lock.Timeout == 0 {
		c.Lock.Timeout = defaults.Lock.Timeout
	}
	if c.Lock.PollInterval == 0 {
		c.Lock.PollInterval = defaults.Lock.PollInterval
	}
	if c.Lock.Lease == 0 {
		c.Lock.Lease = defaults.Lock.Lease
	}
	if c.Limits.MaxChannelNameLength == 0 {
		c.Limits.MaxChannelNameLength = defaults.Limits.MaxChannelNameLength
	}
	if c.Limits.MaxDescriptionLength == 0 {
		c.Limits.MaxDescriptionLength = defaults.Limits.MaxDescriptionLength
	}
	if c.Limits.MaxMessageLength == 0 {
		c.Limits.MaxMessageLength = defaults.Limits.MaxMessageLength
	}
	if c.Limits.MaxFilesPerChannel == 0 {
		c.Limits.MaxFilesPerChannel = defaults.Limits.MaxFilesPerChannel
	}
	if c.Limits.SearchLimit == 0 {
		c.Limits.SearchLimit = defaults.Limits.SearchLimit
	}
	if c.Retention.MessageMaxAge == 0 {
		c.Retention.MessageMaxAge = defaults.Retention.MessageMaxAge
	}
	if c.Retention.ProcessingTimeout == 0 {
		c.Retention.ProcessingTimeout = defaults.Retention.ProcessingTimeout
	}
	if c.Retention.AgentTimeout == 0 {
		c.Retention.AgentTimeout = defaults.Retention.AgentTimeout
	}
	if c.Retention.MaintenanceInterval == 0 {
		c.Retention.MaintenanceInterval = defaults.Retention.MaintenanceInterval
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
}

// StoreDir returns the directory holding the flat-file tables.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

// SQLitePath returns the SQLite database file.
func (c *Config) SQLitePath() string {
	if c.Backend.Path != "" {
		return c.Backend.Path
	}
	return filepath.Join(c.DataDir, "warren.db")
}

// EventsFile returns the path to the audit event log.
func (c *Config) EventsFile() string {
	return filepath.Join(c.DataDir, "events.cbor")
}
