package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// withConfigHome points XDG_CONFIG_HOME at dir for the duration of the test.
func withConfigHome(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", dir)
	xdg.Reload()
	t.Cleanup(xdg.Reload)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.Session.TTL != 30*time.Second {
		t.Errorf("Session.TTL = %v, want 30s", cfg.Session.TTL)
	}
	if cfg.Session.CleanupInterval != 5*time.Second {
		t.Errorf("Session.CleanupInterval = %v, want 5s", cfg.Session.CleanupInterval)
	}
	if cfg.Session.RemoveShardOnStop {
		t.Error("Session.RemoveShardOnStop should be false by default")
	}
	if cfg.Shard.ReloadInterval != 5*time.Second {
		t.Errorf("Shard.ReloadInterval = %v, want 5s", cfg.Shard.ReloadInterval)
	}
	if cfg.Shard.BackupRetention != 10 {
		t.Errorf("Shard.BackupRetention = %d, want 10", cfg.Shard.BackupRetention)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled should be false by default")
	}
}

func TestConfigDir(t *testing.T) {
	withConfigHome(t, "/custom/config")

	if got, want := ConfigDir(), "/custom/config/bapelauto"; got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
	if got, want := ConfigFile(), "/custom/config/bapelauto/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestPathsConfig_ResolveBaseDir(t *testing.T) {
	withConfigHome(t, "/custom/config")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		name    string
		baseDir string
		want    string
	}{
		{"empty uses config dir", "", "/custom/config/bapelauto"},
		{"absolute", "/srv/coord", "/srv/coord"},
		{"tilde", "~", home},
		{"tilde prefix", "~/games/coord", filepath.Join(home, "games", "coord")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PathsConfig{BaseDir: tt.baseDir}
			if got := p.ResolveBaseDir(); got != tt.want {
				t.Errorf("ResolveBaseDir() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("relative becomes absolute", func(t *testing.T) {
		p := PathsConfig{BaseDir: "rel/dir"}
		if got := p.ResolveBaseDir(); !filepath.IsAbs(got) {
			t.Errorf("ResolveBaseDir() = %q, want absolute path", got)
		}
	})
}

func TestConfig_LogDir(t *testing.T) {
	cfg := Default()
	cfg.Paths.BaseDir = "/srv/coord"
	if got, want := cfg.LogDir(), "/srv/coord/logs"; got != want {
		t.Errorf("LogDir() = %q, want %q", got, want)
	}
}

func TestLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.TTL != 30*time.Second {
		t.Errorf("Session.TTL = %v, want 30s", cfg.Session.TTL)
	}

	// Durations are accepted in string form, as written in config.yaml.
	viper.Set("session.ttl", "1m")
	viper.Set("shard.backup_retention", 4)
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.TTL != time.Minute {
		t.Errorf("Session.TTL = %v, want 1m", cfg.Session.TTL)
	}
	if cfg.Shard.BackupRetention != 4 {
		t.Errorf("Shard.BackupRetention = %d, want 4", cfg.Shard.BackupRetention)
	}

	viper.Set("logging.level", "loud")
	if _, err := Load(); err == nil {
		t.Error("Load() with invalid level succeeded")
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("shard.backup_retention", 0)

	// Invalid settings fall back to defaults.
	cfg := Get()
	if cfg.Shard.BackupRetention != 10 {
		t.Errorf("Get().Shard.BackupRetention = %d, want default 10", cfg.Shard.BackupRetention)
	}
}
