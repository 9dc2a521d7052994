package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BackendConfig contains tile storage backend configuration
type BackendConfig struct {
	DatabasePath     string        `mapstructure:"database_path"`
	Concurrency      int           `mapstructure:"concurrency"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxRetries       int           `mapstructure:"max_retries"`
	DefaultTileLimit int64         `mapstructure:"default_tile_limit"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// OrchestratorConfig contains download orchestration configuration
type OrchestratorConfig struct {
	AutoExitOnIdle bool          `mapstructure:"auto_exit_on_idle"`
	IdleGrace      time.Duration `mapstructure:"idle_grace"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Sound     bool   `mapstructure:"sound"`
	Method    string `mapstructure:"method"` // osascript, notify-send, none
	Snapshots bool   `mapstructure:"snapshots"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8181,
		},
		Backend: BackendConfig{
			DatabasePath:     "$HOME/.offline-go/offline.db",
			Concurrency:      4,
			RequestTimeout:   30 * time.Second,
			RetryDelay:       5 * time.Second,
			MaxRetries:       3,
			DefaultTileLimit: 6000,
			UserAgent:        "offline-go/1.0",
		},
		Orchestrator: OrchestratorConfig{
			AutoExitOnIdle: false,
			IdleGrace:      time.Minute,
		},
		Notification: NotificationConfig{
			Enabled:   true,
			Sound:     false,
			Method:    "notify-send",
			Snapshots: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.offline-go/logs",
		},
	}
}
