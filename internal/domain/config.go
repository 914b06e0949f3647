package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Download DownloadConfig `mapstructure:"download"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig describes where images, the index and legacy descriptors live
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	ImagesDir string `mapstructure:"images_dir"` // relative to BaseDir unless absolute
	IndexFile string `mapstructure:"index_file"` // relative to BaseDir unless absolute
	LegacyDir string `mapstructure:"legacy_dir"` // relative to BaseDir unless absolute
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	Concurrency         int           `mapstructure:"concurrency"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	UserAgent           string        `mapstructure:"user_agent"`
	DefaultExtension    string        `mapstructure:"default_extension"`
}

// HistoryConfig contains batch history configuration
type HistoryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`    // categorized log files, empty disables them
}

// ImagesPath returns the absolute images directory
func (s StorageConfig) ImagesPath() string {
	return s.resolve(s.ImagesDir)
}

// IndexPath returns the absolute index file path
func (s StorageConfig) IndexPath() string {
	return s.resolve(s.IndexFile)
}

// LegacyPath returns the absolute legacy descriptor directory
func (s StorageConfig) LegacyPath() string {
	return s.resolve(s.LegacyDir)
}

func (s StorageConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.BaseDir, p)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Storage: StorageConfig{
			BaseDir:   "$HOME/.local/share/wallcache",
			ImagesDir: "images",
			IndexFile: "index.bin",
			LegacyDir: "metadata",
		},
		Download: DownloadConfig{
			Concurrency:         3,
			MaxAttempts:         3,
			BackoffBase:         time.Second,
			BackoffMax:          30 * time.Second,
			ConnectTimeout:      10 * time.Second,
			ReadTimeout:         30 * time.Second,
			MaxIdleConnsPerHost: 4,
			UserAgent:           "wallcache/1.0",
			DefaultExtension:    ".jpg",
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: "$HOME/.local/share/wallcache/history.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.local/share/wallcache/logs",
		},
	}
}
