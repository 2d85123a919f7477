// Package config holds the daemon's configuration: where the server
// is, where local state lives, and the sync tunables.
package config

import (
	"strconv"
	"time"
)

// Config holds all configuration for the sync daemon
type Config struct {
	// APIBaseURL is the Trendy server, e.g. https://api.trendy.app
	APIBaseURL string `json:"apiBaseUrl"`

	// Environment namespaces the change cursor so switching deployments
	// never replays the wrong feed
	Environment string `json:"environment"`

	Auth  AuthConfig  `json:"auth"`
	Local LocalConfig `json:"local"`
	Sync  SyncConfig  `json:"sync"`

	// ListenAddr is the status server address, empty disables it
	ListenAddr string `json:"listenAddr,omitempty"`

	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// AuthConfig selects a token strategy: a fixed access token, or a
// refresh token exchanged at the server's refresh endpoint.
type AuthConfig struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// LocalConfig locates the on-disk sync state.
type LocalConfig struct {
	DBPath     string `json:"dbPath"`
	CursorPath string `json:"cursorPath"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	// Interval between automatic sync passes in daemon mode
	Interval Duration `json:"interval"`

	// BatchSize caps how many event creates go into one batch request
	BatchSize int `json:"batchSize"`

	// PullLimit is the change-feed page size
	PullLimit int `json:"pullLimit"`

	// BootstrapPageSize is the collection page size during full refetch
	BootstrapPageSize int `json:"bootstrapPageSize"`

	// WaitTimeout bounds how long a concurrent sync trigger waits for
	// the in-flight pass
	WaitTimeout Duration `json:"waitTimeout"`

	// Coalesce makes concurrent triggers return immediately instead of
	// waiting
	Coalesce bool `json:"coalesce"`
}

// Duration is a time.Duration that marshals as a string ("30s", "5m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	// Bare numbers are seconds.
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.Local.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.Auth.AccessToken == "" && c.Auth.RefreshToken == "" {
		return ErrMissingCredentials
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:  "http://localhost:8081",
		Environment: "production",
		Local: LocalConfig{
			DBPath:     "trendy-sync.db",
			CursorPath: "trendy-sync-cursor.json",
		},
		Sync: SyncConfig{
			Interval:          Duration(5 * time.Minute),
			BatchSize:         25,
			PullLimit:         100,
			BootstrapPageSize: 200,
			WaitTimeout:       Duration(30 * time.Second),
		},
		ListenAddr: "",
		LogLevel:   "info",
	}
}

// RefreshURL is the endpoint the refreshing token source posts to.
func (c *Config) RefreshURL() string {
	return c.APIBaseURL + "/api/v1/auth/refresh"
}
