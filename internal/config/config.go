// Package config provides unified configuration for the Larder server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// ServerConfig holds the HTTP/websocket server configuration.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout for non-websocket requests
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout for non-websocket requests
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StoreConfig holds event store configuration.
type StoreConfig struct {
	// Type is the store backend: local, postgres, s3
	Type string `json:"type" yaml:"type"`

	// Path is the event database path (for local type)
	Path string `json:"path" yaml:"path"`

	// DSN is the connection string (for postgres type)
	DSN string `json:"dsn" yaml:"dsn"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 event store configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is an optional key prefix
	Prefix string `json:"prefix" yaml:"prefix"`

	// PathStyle enables path-style addressing (required for MinIO)
	PathStyle bool `json:"path_style" yaml:"path_style"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the minimum level to emit: debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is the output format: text, json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/larder",
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Store: StoreConfig{
			Type: "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/larder"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "events.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "local", "postgres", "s3":
		// Valid backends
	default:
		return fmt.Errorf("invalid store type: %s (must be local, postgres, or s3)", c.Store.Type)
	}

	if c.Store.Type == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store type is postgres")
	}
	if c.Store.Type == "s3" && c.Store.S3.Bucket == "" {
		return fmt.Errorf("store.s3.bucket is required when store type is s3")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LARDER_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LARDER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LARDER_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	// Store configuration
	if v := os.Getenv("LARDER_STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}
	if v := os.Getenv("LARDER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LARDER_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("LARDER_S3_BUCKET"); v != "" {
		cfg.Store.S3.Bucket = v
	}
	if v := os.Getenv("LARDER_S3_REGION"); v != "" {
		cfg.Store.S3.Region = v
	}
	if v := os.Getenv("LARDER_S3_ENDPOINT"); v != "" {
		cfg.Store.S3.Endpoint = v
	}
	if v := os.Getenv("LARDER_S3_PREFIX"); v != "" {
		cfg.Store.S3.Prefix = v
	}
	if v := os.Getenv("LARDER_S3_PATH_STYLE"); v != "" {
		cfg.Store.S3.PathStyle = v == "true" || v == "1"
	}

	// Log configuration
	if v := os.Getenv("LARDER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LARDER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Store.Type == "local" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
