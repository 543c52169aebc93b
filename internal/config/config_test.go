package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("DefaultConfig() Sync.Interval = %v, want %v", cfg.Sync.Interval, 30*time.Second)
	}
	if cfg.KeyPackage.CacheTTL != 5*time.Minute {
		t.Errorf("DefaultConfig() KeyPackage.CacheTTL = %v, want %v", cfg.KeyPackage.CacheTTL, 5*time.Minute)
	}
	if cfg.DB.Path != "groupcore.db" {
		t.Errorf("DefaultConfig() DB.Path = %q, want %q", cfg.DB.Path, "groupcore.db")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Relay.URL != "" {
		t.Errorf("DefaultConfig() Relay.URL should be empty, got %q", cfg.Relay.URL)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "groupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
relay:
  url: "https://relay.example.com"
  requests_per_second: 20
db:
  path: /var/lib/groupcore/state.db
identity:
  installation_id: installation-from-file
  local_version: "2.0.0"
sync:
  interval: 10s
log:
  level: debug
  file: /var/log/groupcore.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Relay.URL != "https://relay.example.com" {
		t.Errorf("LoadWithEnv() Relay.URL = %q, want %q", cfg.Relay.URL, "https://relay.example.com")
	}
	if cfg.DB.Path != "/var/lib/groupcore/state.db" {
		t.Errorf("LoadWithEnv() DB.Path = %q, want %q", cfg.DB.Path, "/var/lib/groupcore/state.db")
	}
	if cfg.Identity.InstallationID != "installation-from-file" {
		t.Errorf("LoadWithEnv() Identity.InstallationID = %q, want %q", cfg.Identity.InstallationID, "installation-from-file")
	}
	if cfg.Sync.Interval != 10*time.Second {
		t.Errorf("LoadWithEnv() Sync.Interval = %v, want %v", cfg.Sync.Interval, 10*time.Second)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "groupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `relay:
  url: "https://relay-from-file.example.com"`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME":   tmpDir,
		"GROUPCORE_RELAY_URL": "https://relay-from-env.example.com",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Relay.URL != "https://relay-from-env.example.com" {
		t.Errorf("LoadWithEnv() Relay.URL = %q, want env override", cfg.Relay.URL)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("LoadWithEnv() without file should use default Sync.Interval, got %v", cfg.Sync.Interval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() without file should use default Log.Level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "groupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	invalidContent := `
relay: [this is invalid yaml
sync:
  interval: not a duration
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	_, err := LoadWithEnv(env)
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	path := getConfigPathWithEnv(env)
	expected := filepath.Join(tmpDir, "groupcore", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "groupcore", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "groupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
sync:
  interval: 5m
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("LoadWithEnv() Sync.Interval = %v, want %v", cfg.Sync.Interval, 5*time.Minute)
	}
	if cfg.KeyPackage.CacheTTL != 5*time.Minute {
		t.Errorf("LoadWithEnv() KeyPackage.CacheTTL = %v, want %v (default)", cfg.KeyPackage.CacheTTL, 5*time.Minute)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}
