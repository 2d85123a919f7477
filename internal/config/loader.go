package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Load loads configuration from a file path and applies environment
// variable overrides. Validation is deferred so CLI flag overrides can
// be applied first; call cfg.Validate() in the caller.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// LoadFromEnvironment creates a configuration using only environment
// variables, for deployments without a config file.
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file. Missing fields
// keep their defaults.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies configuration from TRENDY_SYNC_*
// environment variables.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("TRENDY_SYNC_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("TRENDY_SYNC_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("TRENDY_SYNC_ACCESS_TOKEN"); v != "" {
		cfg.Auth.AccessToken = v
	}
	if v := os.Getenv("TRENDY_SYNC_REFRESH_TOKEN"); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := os.Getenv("TRENDY_SYNC_DB_PATH"); v != "" {
		cfg.Local.DBPath = v
	}
	if v := os.Getenv("TRENDY_SYNC_CURSOR_PATH"); v != "" {
		cfg.Local.CursorPath = v
	}
	if v := os.Getenv("TRENDY_SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TRENDY_SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRENDY_SYNC_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("TRENDY_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("TRENDY_SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("TRENDY_SYNC_PULL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.PullLimit = n
		}
	}
	if v := os.Getenv("TRENDY_SYNC_COALESCE"); v == "true" || v == "1" {
		cfg.Sync.Coalesce = true
	}
}
