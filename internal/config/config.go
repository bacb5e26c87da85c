// Package config provides configuration loading and structs for the damgrep server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Scan     ScanConfig     `yaml:"scan"`
	Metadata MetadataConfig `yaml:"metadata"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// SearchPath is the path of the HTML search endpoint.
	SearchPath        string `yaml:"search_path"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// Store drivers.
const (
	DriverDisk   = "disk"
	DriverSQLite = "sqlite"
)

// StoreConfig selects and configures the asset store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// ContentRoot is the repository path below which assets are searched.
	ContentRoot string       `yaml:"content_root"`
	Disk        DiskConfig   `yaml:"disk"`
	SQLite      SQLiteConfig `yaml:"sqlite"`
}

// DiskConfig serves a directory as the content root.
type DiskConfig struct {
	RootDir string `yaml:"root_dir"`
}

// SQLiteConfig holds the asset catalog location.
type SQLiteConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ScanConfig holds full-text scan settings.
type ScanConfig struct {
	Workers       int            `yaml:"workers"`
	MaxAssetBytes int64          `yaml:"max_asset_bytes"`
	Formats       []FormatConfig `yaml:"formats"`
}

// FormatConfig binds a document format to its declared content type and
// match policy. Unset fields inherit the built-in values for Name.
type FormatConfig struct {
	Name        string   `yaml:"name"`
	ContentType string   `yaml:"content_type"`
	Match       string   `yaml:"match"`
	Extensions  []string `yaml:"extensions"`
	Enabled     *bool    `yaml:"enabled"`
}

// IsEnabled reports whether the format is scanned; formats are enabled unless disabled explicitly.
func (f *FormatConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// MetadataConfig configures the metadata predicate query.
type MetadataConfig struct {
	// IndexPath is the Bleve index directory; empty keeps the index in memory.
	IndexPath  string            `yaml:"index_path"`
	MaxResults int               `yaml:"max_results"`
	Predicates map[string]string `yaml:"predicates"`
}

// WatchConfig holds directory watch settings for catalog sync.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.Disk.RootDir = expandPath(cfg.Store.Disk.RootDir, configDir)
	cfg.Store.SQLite.DatabasePath = expandPath(cfg.Store.SQLite.DatabasePath, configDir)
	if cfg.Metadata.IndexPath != "" {
		cfg.Metadata.IndexPath = expandPath(cfg.Metadata.IndexPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
