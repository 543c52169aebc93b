// Package config loads groupcore's on-disk configuration: relay
// endpoint, local database path, local installation identity, and the
// sync worker's schedule. Same YAML-file-plus-env-override shape and
// XDG_CONFIG_HOME resolution the teacher uses for its own config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Relay       RelayConfig       `yaml:"relay"`
	DB          DBConfig          `yaml:"db"`
	Identity    IdentityConfig    `yaml:"identity"`
	KeyPackage  KeyPackageConfig  `yaml:"key_package"`
	Sync        SyncConfig        `yaml:"sync"`
	Log         LogConfig         `yaml:"log"`
}

type RelayConfig struct {
	URL               string  `yaml:"url"` // empty means run against an in-memory relay
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type IdentityConfig struct {
	InstallationID string `yaml:"installation_id"`
	LocalVersion   string `yaml:"local_version"`
}

type KeyPackageConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			RequestsPerSecond: 10,
			Burst:             50,
		},
		DB: DBConfig{
			Path: "groupcore.db",
		},
		Identity: IdentityConfig{
			LocalVersion: "1.0.0",
		},
		KeyPackage: KeyPackageConfig{
			CacheTTL: 5 * time.Minute,
		},
		Sync: SyncConfig{
			Interval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function. This allows tests to provide isolated environment values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if url := getenv("GROUPCORE_RELAY_URL"); url != "" {
		cfg.Relay.URL = url
	}
	if dbPath := getenv("GROUPCORE_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if installationID := getenv("GROUPCORE_INSTALLATION_ID"); installationID != "" {
		cfg.Identity.InstallationID = installationID
	}

	return cfg, nil
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "groupcore", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "groupcore", "config.yaml")
}
