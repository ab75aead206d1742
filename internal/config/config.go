// Package config handles configuration loading, validation, and persistence
// for bzfquery's serve mode.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5155
	DefaultQueryPort  = 5154
	DefaultMQTTPort   = 1883
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Query    QueryConfig    `json:"query"`
	Servers  []ServerTarget `json:"servers"`
	Poller   PollerConfig   `json:"poller"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
}

// QueryConfig holds settings shared by every query.
type QueryConfig struct {
	DefaultPort int `json:"default_port"`
	TimeoutSec  int `json:"timeout_sec"`
}

// ServerTarget is a named bzfs server to poll.
type ServerTarget struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PollerConfig holds polling intervals.
type PollerConfig struct {
	Enabled            bool `json:"enabled"`
	IntervalSec        int  `json:"interval_sec"`
	PruneIntervalHours int  `json:"prune_interval_hours"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	// AllowLiveQuery exposes /api/query, which dials any host:port the
	// caller names.
	AllowLiveQuery bool `json:"allow_live_query"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds snapshot history settings.
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Query: QueryConfig{
			DefaultPort: DefaultQueryPort,
			TimeoutSec:  10,
		},
		Servers: []ServerTarget{},
		Poller: PollerConfig{
			Enabled:            true,
			IntervalSec:        60,
			PruneIntervalHours: 24,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        DefaultMQTTPort,
			ClientID:    "bzfquery",
			TopicPrefix: "bzfquery",
		},
		Database: DatabaseConfig{
			Path:          "data/bzfquery.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating it with
// defaults when missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Int("servers", len(cfg.Servers)).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServers returns a copy of the poll targets.
func (c *Config) GetServers() []ServerTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ServerTarget(nil), c.Servers...)
}

// FindServer returns the target with the given name.
func (c *Config) FindServer(name string) (ServerTarget, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerTarget{}, false
}

// AddServer appends a poll target. Names must be unique.
func (c *Config) AddServer(target ServerTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.Servers {
		if s.Name == target.Name {
			return fmt.Errorf("server %q already configured", target.Name)
		}
	}
	if target.Port == 0 {
		target.Port = c.Query.DefaultPort
	}
	c.Servers = append(c.Servers, target)
	return nil
}

// QueryTimeout returns the per-query timeout.
func (c *Config) QueryTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Query.TimeoutSec) * time.Second
}

// PollInterval returns the delay between polls of one server.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Poller.IntervalSec) * time.Second
}

// Retention returns how long stored snapshots are kept.
func (c *Config) Retention() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
