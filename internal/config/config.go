// Package config provides configuration management for gopm.
//
// This package handles loading configuration from multiple sources:
// - Configuration files (YAML, JSON, TOML)
// - Environment variables
// - Default values
//
// Configuration is loaded in order of precedence (highest to lowest):
// 1. Environment variables (GOPM_ prefix)
// 2. Configuration file (gopm.yaml)
// 3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gopm configuration
type Config struct {
	Daemon  DaemonConfig  `mapstructure:"daemon" yaml:"daemon"`
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Buffer  BufferConfig  `mapstructure:"buffer" yaml:"buffer"`
	State   StateConfig   `mapstructure:"state" yaml:"state"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DaemonConfig contains daemon server configuration
type DaemonConfig struct {
	Host                    string        `mapstructure:"host" yaml:"host"`
	Port                    int           `mapstructure:"port" yaml:"port"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout" yaml:"graceful_shutdown_timeout"`
	PingInterval            time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ManagerConfig contains process supervision configuration
type ManagerConfig struct {
	MaxProcesses        int           `mapstructure:"max_processes" yaml:"max_processes"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	AutoRestartDelay    time.Duration `mapstructure:"auto_restart_delay" yaml:"auto_restart_delay"`
	MaxRestartDelay     time.Duration `mapstructure:"max_restart_delay" yaml:"max_restart_delay"`
	StableUptime        time.Duration `mapstructure:"stable_uptime" yaml:"stable_uptime"`
	MaxRestarts         int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	StopTimeout         time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	SweepWorkers        int           `mapstructure:"sweep_workers" yaml:"sweep_workers"`
}

// LogConfig contains persisted process log configuration
type LogConfig struct {
	Dir           string `mapstructure:"dir" yaml:"dir"`
	MaxSize       string `mapstructure:"max_size" yaml:"max_size"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// BufferConfig contains in-memory ring buffer configuration
type BufferConfig struct {
	MaxAge          time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MaxSize         string        `mapstructure:"max_size" yaml:"max_size"`
	MaxLineSize     string        `mapstructure:"max_line_size" yaml:"max_line_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// StateConfig contains daemon state persistence configuration
type StateConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`
	SnapshotFile string `mapstructure:"snapshot_file" yaml:"snapshot_file"`
}

// ClientConfig contains CLI-side IPC client configuration
type ClientConfig struct {
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay" yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
}

// LoggingConfig contains gopm's own logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputFile string `mapstructure:"output_file" yaml:"output_file"`
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
}

// defaultBaseDir returns the directory gopm keeps its state under.
func defaultBaseDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gopm")
	}
	return ".gopm"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	base := defaultBaseDir()

	return &Config{
		Daemon: DaemonConfig{
			Host:                    "127.0.0.1",
			Port:                    9999,
			GracefulShutdownTimeout: 10 * time.Second,
			PingInterval:            30 * time.Second,
			ReadTimeout:             60 * time.Second,
			WriteTimeout:            10 * time.Second,
		},
		Manager: ManagerConfig{
			MaxProcesses:        1000,
			HealthCheckInterval: 5 * time.Second,
			AutoRestartDelay:    5 * time.Second,
			MaxRestartDelay:     60 * time.Second,
			StableUptime:        30 * time.Second,
			MaxRestarts:         16,
			StopTimeout:         10 * time.Second,
			SweepWorkers:        8,
		},
		Log: LogConfig{
			Dir:           filepath.Join(base, "logs"),
			MaxSize:       "100MB",
			RetentionDays: 30,
		},
		Buffer: BufferConfig{
			MaxAge:          30 * time.Minute,
			MaxSize:         "5MB",
			MaxLineSize:     "64KB",
			CleanupInterval: 30 * time.Second,
		},
		State: StateConfig{
			Dir:          base,
			SnapshotFile: "processes.json",
		},
		Client: ClientConfig{
			ConnectTimeout:        5 * time.Second,
			RequestTimeout:        30 * time.Second,
			HandshakeTimeout:      10 * time.Second,
			ReconnectInitialDelay: 1 * time.Second,
			ReconnectMaxDelay:     30 * time.Second,
			ReconnectMaxAttempts:  5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputFile: "",
			Verbose:    false,
		},
	}
}

// LoadConfig loads configuration from various sources
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GOPM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gopm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gopm")
		v.AddConfigPath("/etc/gopm")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// A missing config file is only an error when one was named.
			if configFile != "" {
				return nil, fmt.Errorf("config file not found: %s", configFile)
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("daemon.host", defaults.Daemon.Host)
	v.SetDefault("daemon.port", defaults.Daemon.Port)
	v.SetDefault("daemon.graceful_shutdown_timeout", defaults.Daemon.GracefulShutdownTimeout)
	v.SetDefault("daemon.ping_interval", defaults.Daemon.PingInterval)
	v.SetDefault("daemon.read_timeout", defaults.Daemon.ReadTimeout)
	v.SetDefault("daemon.write_timeout", defaults.Daemon.WriteTimeout)

	v.SetDefault("manager.max_processes", defaults.Manager.MaxProcesses)
	v.SetDefault("manager.health_check_interval", defaults.Manager.HealthCheckInterval)
	v.SetDefault("manager.auto_restart_delay", defaults.Manager.AutoRestartDelay)
	v.SetDefault("manager.max_restart_delay", defaults.Manager.MaxRestartDelay)
	v.SetDefault("manager.stable_uptime", defaults.Manager.StableUptime)
	v.SetDefault("manager.max_restarts", defaults.Manager.MaxRestarts)
	v.SetDefault("manager.stop_timeout", defaults.Manager.StopTimeout)
	v.SetDefault("manager.sweep_workers", defaults.Manager.SweepWorkers)

	v.SetDefault("log.dir", defaults.Log.Dir)
	v.SetDefault("log.max_size", defaults.Log.MaxSize)
	v.SetDefault("log.retention_days", defaults.Log.RetentionDays)

	v.SetDefault("buffer.max_age", defaults.Buffer.MaxAge)
	v.SetDefault("buffer.max_size", defaults.Buffer.MaxSize)
	v.SetDefault("buffer.max_line_size", defaults.Buffer.MaxLineSize)
	v.SetDefault("buffer.cleanup_interval", defaults.Buffer.CleanupInterval)

	v.SetDefault("state.dir", defaults.State.Dir)
	v.SetDefault("state.snapshot_file", defaults.State.SnapshotFile)

	v.SetDefault("client.connect_timeout", defaults.Client.ConnectTimeout)
	v.SetDefault("client.request_timeout", defaults.Client.RequestTimeout)
	v.SetDefault("client.handshake_timeout", defaults.Client.HandshakeTimeout)
	v.SetDefault("client.reconnect_initial_delay", defaults.Client.ReconnectInitialDelay)
	v.SetDefault("client.reconnect_max_delay", defaults.Client.ReconnectMaxDelay)
	v.SetDefault("client.reconnect_max_attempts", defaults.Client.ReconnectMaxAttempts)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output_file", defaults.Logging.OutputFile)
	v.SetDefault("logging.verbose", defaults.Logging.Verbose)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Daemon.Host == "" {
		return fmt.Errorf("daemon.host cannot be empty")
	}

	if config.Daemon.Port < 1 || config.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be between 1 and 65535, got %d", config.Daemon.Port)
	}

	if config.Manager.MaxProcesses < 1 {
		return fmt.Errorf("manager.max_processes must be positive, got %d", config.Manager.MaxProcesses)
	}

	if config.Manager.HealthCheckInterval <= 0 {
		return fmt.Errorf("manager.health_check_interval must be positive, got %v", config.Manager.HealthCheckInterval)
	}

	if config.Manager.AutoRestartDelay < 0 {
		return fmt.Errorf("manager.auto_restart_delay must be non-negative, got %v", config.Manager.AutoRestartDelay)
	}

	if config.Manager.MaxRestarts < 0 {
		return fmt.Errorf("manager.max_restarts must be non-negative, got %d", config.Manager.MaxRestarts)
	}

	if config.Manager.SweepWorkers < 1 {
		return fmt.Errorf("manager.sweep_workers must be positive, got %d", config.Manager.SweepWorkers)
	}

	if config.Log.RetentionDays < 0 {
		return fmt.Errorf("log.retention_days must be non-negative, got %d", config.Log.RetentionDays)
	}

	if err := validateSizeString(config.Log.MaxSize, "log.max_size"); err != nil {
		return err
	}

	if config.Buffer.MaxAge <= 0 {
		return fmt.Errorf("buffer.max_age must be positive, got %v", config.Buffer.MaxAge)
	}

	if config.Buffer.CleanupInterval <= 0 {
		return fmt.Errorf("buffer.cleanup_interval must be positive, got %v", config.Buffer.CleanupInterval)
	}

	if err := validateSizeString(config.Buffer.MaxSize, "buffer.max_size"); err != nil {
		return err
	}

	if err := validateSizeString(config.Buffer.MaxLineSize, "buffer.max_line_size"); err != nil {
		return err
	}

	if config.Client.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("client.reconnect_max_attempts must be non-negative, got %d", config.Client.ReconnectMaxAttempts)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", config.Logging.Format)
	}

	return nil
}

// validateSizeString validates size strings like "5MB", "64KB"
func validateSizeString(size, field string) error {
	if size == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}

	_, err := ParseSize(size)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}

	return nil
}

// ParseSize parses size strings like "5MB", "64KB" into bytes
func ParseSize(size string) (int64, error) {
	if size == "" {
		return 0, fmt.Errorf("size string cannot be empty")
	}

	size = strings.ToUpper(strings.TrimSpace(size))

	// Longest suffix first so "KB" does not match the "B" arm.
	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	var multiplier int64 = 1
	var valueStr string

	for _, unit := range units {
		if strings.HasSuffix(size, unit.suffix) {
			multiplier = unit.multiplier
			valueStr = strings.TrimSuffix(size, unit.suffix)
			break
		}
	}

	if valueStr == "" {
		valueStr = size
		multiplier = 1
	}

	var value int64
	var floatValue float64

	if n, err := fmt.Sscanf(valueStr, "%f", &floatValue); err == nil && n == 1 {
		if floatValue == float64(int64(floatValue)) {
			value = int64(floatValue)
		} else {
			return 0, fmt.Errorf("float values not supported in size string: %s", valueStr)
		}
	} else {
		return 0, fmt.Errorf("invalid numeric value in size string: %s", valueStr)
	}

	if value < 0 {
		return 0, fmt.Errorf("size value cannot be negative: %d", value)
	}

	return value * multiplier, nil
}

// ServerURL returns the WebSocket endpoint the daemon listens on.
func (c *Config) ServerURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.Daemon.Host, c.Daemon.Port)
}

// HealthURL returns the daemon's HTTP health endpoint.
func (c *Config) HealthURL() string {
	return fmt.Sprintf("http://%s:%d/healthz", c.Daemon.Host, c.Daemon.Port)
}

// ListenAddr returns the daemon's listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Daemon.Host, c.Daemon.Port)
}

// SnapshotPath returns the path of the saved process snapshot.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.State.Dir, c.State.SnapshotFile)
}

// PidFilePath returns the path of the daemon pid file.
func (c *Config) PidFilePath() string {
	return filepath.Join(c.State.Dir, "gopm.pid")
}

// DaemonLogPath returns where a detached daemon writes its own log.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.State.Dir, "daemon.log")
}

// EnsureDirs creates the state and log directories if missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.State.Dir, c.Log.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}
	return nil
}
