package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName names the configuration directory and the environment prefix.
const AppName = "bapelauto"

// EnvPrefix is prepended to environment overrides, e.g. BAPELAUTO_SESSION_TTL.
const EnvPrefix = "BAPELAUTO"

// Config represents the complete bapelctl configuration
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Session   SessionConfig   `mapstructure:"session"`
	Shard     ShardConfig     `mapstructure:"shard"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// PathsConfig controls where coordination state lives
type PathsConfig struct {
	// BaseDir holds sessions/, shards/, backups/, logs/ and the shared
	// configuration file. Empty means the XDG config directory.
	BaseDir string `mapstructure:"base_dir"`
}

// SessionConfig controls liveness tracking
type SessionConfig struct {
	// TTL is how old a heartbeat may get before the session counts as dead
	TTL time.Duration `mapstructure:"ttl"`
	// CleanupInterval is the heartbeat and reclaim period
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// RemoveShardOnStop deletes the instance configuration file on graceful
	// shutdown after a final backup (default: false)
	RemoveShardOnStop bool `mapstructure:"remove_shard_on_stop"`
}

// ShardConfig controls the layered configuration store
type ShardConfig struct {
	// ReloadInterval bounds how often external edits are looked for
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
	// BackupRetention is the number of snapshots kept per instance
	BackupRetention int `mapstructure:"backup_retention"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the per-instance log file rotates (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// TelemetryConfig controls metric collection
type TelemetryConfig struct {
	// Enabled records OpenTelemetry metrics and prints them on exit (default: false)
	Enabled bool `mapstructure:"enabled"`
}

// ResolveBaseDir returns the resolved base directory.
// If BaseDir is empty, it returns ConfigDir().
// If BaseDir starts with ~, it expands to the user's home directory.
func (p *PathsConfig) ResolveBaseDir() string {
	if p.BaseDir == "" {
		return ConfigDir()
	}

	path := p.BaseDir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// LogDir returns the directory for per-instance log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.ResolveBaseDir(), "logs")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			BaseDir: "",
		},
		Session: SessionConfig{
			TTL:               30 * time.Second,
			CleanupInterval:   5 * time.Second,
			RemoveShardOnStop: false,
		},
		Shard: ShardConfig{
			ReloadInterval:  5 * time.Second,
			BackupRetention: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("paths.base_dir", defaults.Paths.BaseDir)

	viper.SetDefault("session.ttl", defaults.Session.TTL)
	viper.SetDefault("session.cleanup_interval", defaults.Session.CleanupInterval)
	viper.SetDefault("session.remove_shard_on_stop", defaults.Session.RemoveShardOnStop)

	viper.SetDefault("shard.reload_interval", defaults.Shard.ReloadInterval)
	viper.SetDefault("shard.backup_retention", defaults.Shard.BackupRetention)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
