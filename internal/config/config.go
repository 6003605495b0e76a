// ABOUTME: Configuration loading and parsing for strand-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete strand-gateway configuration
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Logging   LoggingConfig             `yaml:"logging"`
	Stream    StreamConfig              `yaml:"stream"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig             `yaml:"routing"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StreamConfig holds streaming and channel lifecycle configuration
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	Retention         time.Duration `yaml:"-"`
	JanitorInterval   time.Duration `yaml:"-"`

	// SplitThreshold is the maximum delta payload size in bytes; larger
	// fragments are split before publication.
	SplitThreshold int `yaml:"split_threshold"`

	// QueueCapacity bounds each message channel's event queue.
	QueueCapacity int `yaml:"queue_capacity"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	RetentionRaw         string `yaml:"retention"`
	JanitorIntervalRaw   string `yaml:"janitor_interval"`
}

// ProviderConfig holds per-dialect upstream endpoint overrides
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RoutingConfig holds model routing policy
type RoutingConfig struct {
	// DeniedModels lists vendor model ids that must never be routed to,
	// regardless of mapping state.
	DeniedModels []string `yaml:"denied_models"`
}

// Defaults applied when the config file leaves a field unset.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultRetention         = 5 * time.Minute
	DefaultJanitorInterval   = 30 * time.Second
	DefaultSplitThreshold    = 4096
	DefaultQueueCapacity     = 1024
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Stream.Retention == 0 {
		c.Stream.Retention = DefaultRetention
	}
	if c.Stream.JanitorInterval == 0 {
		c.Stream.JanitorInterval = DefaultJanitorInterval
	}
	if c.Stream.SplitThreshold == 0 {
		c.Stream.SplitThreshold = DefaultSplitThreshold
	}
	if c.Stream.QueueCapacity == 0 {
		c.Stream.QueueCapacity = DefaultQueueCapacity
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Stream.SplitThreshold < 1 {
		return fmt.Errorf("stream.split_threshold must be positive")
	}

	if c.Stream.QueueCapacity < 1 {
		return fmt.Errorf("stream.queue_capacity must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Stream.HeartbeatIntervalRaw != "" {
		cfg.Stream.HeartbeatInterval, err = time.ParseDuration(cfg.Stream.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Stream.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Stream.RetentionRaw != "" {
		cfg.Stream.Retention, err = time.ParseDuration(cfg.Stream.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing retention %q: %w", cfg.Stream.RetentionRaw, err)
		}
	}

	if cfg.Stream.JanitorIntervalRaw != "" {
		cfg.Stream.JanitorInterval, err = time.ParseDuration(cfg.Stream.JanitorIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing janitor_interval %q: %w", cfg.Stream.JanitorIntervalRaw, err)
		}
	}

	return nil
}
