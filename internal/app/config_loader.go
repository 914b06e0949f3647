package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yourusername/wallcache-go/internal/domain"
)

// LoadConfig loads configuration from file and environment. An empty
// configPath searches the standard locations; a missing file means defaults.
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.config/wallcache")
		v.AddConfigPath("/etc/wallcache")
	}

	v.SetEnvPrefix("WALLCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers every config key so AutomaticEnv can override
// values that are absent from the file
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port",
		"storage.base_dir", "storage.images_dir", "storage.index_file", "storage.legacy_dir",
		"download.concurrency", "download.max_attempts", "download.backoff_base", "download.backoff_max",
		"download.connect_timeout", "download.read_timeout", "download.max_idle_conns_per_host",
		"download.user_agent", "download.default_extension",
		"history.enabled", "history.database_path",
		"logging.level", "logging.format", "logging.output_path", "logging.logs_dir",
	}
	for _, key := range keys {
		v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Storage.BaseDir = expandPath(config.Storage.BaseDir)
	config.Storage.ImagesDir = expandPath(config.Storage.ImagesDir)
	config.Storage.IndexFile = expandPath(config.Storage.IndexFile)
	config.Storage.LegacyDir = expandPath(config.Storage.LegacyDir)
	config.History.DatabasePath = expandPath(config.History.DatabasePath)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Storage.BaseDir == "" {
		return fmt.Errorf("storage base directory not configured")
	}

	if config.Storage.IndexFile == "" {
		return fmt.Errorf("index file not configured")
	}

	if config.Download.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	if config.Download.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}

	if config.Download.BackoffBase <= 0 || config.Download.BackoffMax < config.Download.BackoffBase {
		return fmt.Errorf("invalid backoff: base %s, max %s", config.Download.BackoffBase, config.Download.BackoffMax)
	}

	if config.Download.ConnectTimeout <= 0 || config.Download.ReadTimeout <= 0 {
		return fmt.Errorf("connect and read timeouts must be positive")
	}

	if config.Download.DefaultExtension != "" && !strings.HasPrefix(config.Download.DefaultExtension, ".") {
		config.Download.DefaultExtension = "." + config.Download.DefaultExtension
	}

	if config.History.Enabled && config.History.DatabasePath == "" {
		return fmt.Errorf("history database path not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig writes configuration as YAML using the same keys LoadConfig reads
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	values := map[string]interface{}{
		"server.host":                      config.Server.Host,
		"server.port":                      config.Server.Port,
		"storage.base_dir":                 config.Storage.BaseDir,
		"storage.images_dir":               config.Storage.ImagesDir,
		"storage.index_file":               config.Storage.IndexFile,
		"storage.legacy_dir":               config.Storage.LegacyDir,
		"download.concurrency":             config.Download.Concurrency,
		"download.max_attempts":            config.Download.MaxAttempts,
		"download.backoff_base":            config.Download.BackoffBase.String(),
		"download.backoff_max":             config.Download.BackoffMax.String(),
		"download.connect_timeout":         config.Download.ConnectTimeout.String(),
		"download.read_timeout":            config.Download.ReadTimeout.String(),
		"download.max_idle_conns_per_host": config.Download.MaxIdleConnsPerHost,
		"download.user_agent":              config.Download.UserAgent,
		"download.default_extension":       config.Download.DefaultExtension,
		"history.enabled":                  config.History.Enabled,
		"history.database_path":            config.History.DatabasePath,
		"logging.level":                    config.Logging.Level,
		"logging.format":                   config.Logging.Format,
		"logging.output_path":              config.Logging.OutputPath,
		"logging.logs_dir":                 config.Logging.LogsDir,
	}
	for key, value := range values {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
