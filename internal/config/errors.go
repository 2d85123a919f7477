package config

import "errors"

var (
	// ErrMissingAPIBaseURL indicates that the API base URL is not configured
	ErrMissingAPIBaseURL = errors.New("apiBaseUrl is required in configuration")

	// ErrMissingDBPath indicates that the local database path is not configured
	ErrMissingDBPath = errors.New("local.dbPath is required in configuration")

	// ErrMissingCredentials indicates that neither an access token nor a
	// refresh token is configured
	ErrMissingCredentials = errors.New("auth.accessToken or auth.refreshToken is required")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
