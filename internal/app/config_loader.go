package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/offline-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.offline-go")
		v.AddConfigPath("/etc/offline-go")
	}

	v.SetEnvPrefix("OFFLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

// bindEnv registers every key so AutomaticEnv also applies when no config
// file mentions it.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port",
		"backend.database_path", "backend.concurrency", "backend.request_timeout",
		"backend.retry_delay", "backend.max_retries", "backend.default_tile_limit", "backend.user_agent",
		"orchestrator.auto_exit_on_idle", "orchestrator.idle_grace",
		"notification.enabled", "notification.sound", "notification.method", "notification.snapshots",
		"logging.level", "logging.format", "logging.output_path", "logging.logs_dir",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Backend.DatabasePath = expandPath(config.Backend.DatabasePath)
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

	if config.Backend.DatabasePath == "" {
		return fmt.Errorf("backend database path not configured")
	}

	if config.Backend.Concurrency < 1 {
		return fmt.Errorf("backend concurrency must be at least 1")
	}

	if config.Backend.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if config.Backend.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}

	if config.Backend.DefaultTileLimit < 0 {
		return fmt.Errorf("default tile limit cannot be negative")
	}

	switch config.Notification.Method {
	case "osascript", "notify-send", "none", "":
	default:
		return fmt.Errorf("unknown notification method: %s", config.Notification.Method)
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("server.host", config.Server.Host)
	v.Set("server.port", config.Server.Port)
	v.Set("backend.database_path", config.Backend.DatabasePath)
	v.Set("backend.concurrency", config.Backend.Concurrency)
	v.Set("backend.request_timeout", config.Backend.RequestTimeout.String())
	v.Set("backend.retry_delay", config.Backend.RetryDelay.String())
	v.Set("backend.max_retries", config.Backend.MaxRetries)
	v.Set("backend.default_tile_limit", config.Backend.DefaultTileLimit)
	v.Set("backend.user_agent", config.Backend.UserAgent)
	v.Set("orchestrator.auto_exit_on_idle", config.Orchestrator.AutoExitOnIdle)
	v.Set("orchestrator.idle_grace", config.Orchestrator.IdleGrace.String())
	v.Set("notification.enabled", config.Notification.Enabled)
	v.Set("notification.sound", config.Notification.Sound)
	v.Set("notification.method", config.Notification.Method)
	v.Set("notification.snapshots", config.Notification.Snapshots)
	v.Set("logging.level", config.Logging.Level)
	v.Set("logging.format", config.Logging.Format)
	v.Set("logging.output_path", config.Logging.OutputPath)
	v.Set("logging.logs_dir", config.Logging.LogsDir)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
