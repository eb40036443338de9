package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level tables configuration file.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Tables  TablesConfig  `yaml:"tables"`
	Cache   CacheConfig   `yaml:"cache"`
	Events  EventsConfig  `yaml:"events"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	Import  ImportConfig  `yaml:"import"`
	Sources []SourceYAML  `yaml:"sources"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	MaxBodySize     string          `yaml:"max_body_size"`
	ShutdownTimeout string          `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// RateLimitConfig controls per-IP and per-key request limits.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"`
}

// TablesConfig controls defaults of the table service.
type TablesConfig struct {
	DefaultOwnerType string `yaml:"default_owner_type"`
	PageSize         int    `yaml:"page_size"`
}

// CacheConfig selects the tagged cache backend.
type CacheConfig struct {
	Backend string    `yaml:"backend"` // memory, redis, none
	TTL     string    `yaml:"ttl"`
	Redis   RedisYAML `yaml:"redis"`
}

// RedisYAML holds the connection settings of a Redis server.
type RedisYAML struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventsConfig selects where change events are published.
type EventsConfig struct {
	Backend string    `yaml:"backend"` // log, redis, none
	Channel string    `yaml:"channel"`
	Redis   RedisYAML `yaml:"redis"`
}

// SweeperConfig controls the removal of tables that never got an owner.
type SweeperConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interval  string `yaml:"interval"`
	OrphanAge string `yaml:"orphan_age"`
}

// ImportConfig holds defaults for CSV imports.
type ImportConfig struct {
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
}

// SourceYAML defines a publish target database in the YAML configuration file.
type SourceYAML struct {
	Name           string          `yaml:"name"`
	Driver         string          `yaml:"driver"`
	DSN            string          `yaml:"dsn"`
	Schema         string          `yaml:"schema"`
	PrivateKeyPath string          `yaml:"private_key_path,omitempty"`
	Pool           *PoolYAMLConfig `yaml:"pool,omitempty"`
}

// PoolYAMLConfig controls the connection pool for a source in YAML config.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"` // stdio or sse
	Addr      string `yaml:"addr"`      // listen address of the sse transport
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Missing sections keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "32MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 600,
			},
		},
		Auth: AuthConfig{
			JWTExpiry: "24h",
		},
		Tables: TablesConfig{
			DefaultOwnerType: "IBLOCK_ELEMENT",
			PageSize:         50,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     "3600s",
			Redis:   RedisYAML{Addr: "localhost:6379"},
		},
		Events: EventsConfig{
			Backend: "log",
			Channel: "tables.events",
			Redis:   RedisYAML{Addr: "localhost:6379"},
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  "1h",
			OrphanAge: "24h",
		},
		Import: ImportConfig{
			Delimiter: ";",
			Encoding:  "UTF-8",
		},
		MCP: MCPConfig{
			Enabled:   true,
			Transport: "stdio",
			Addr:      ":3001",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
