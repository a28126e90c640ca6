package config

import (
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// Environment variable names for overrides.
const (
	EnvConfig      = "PODGATE_CONFIG"
	EnvProviderURL = "PODGATE_PROVIDER_URL"
	EnvLogLevel    = "PODGATE_LOG_LEVEL"
	EnvHistoryDB   = "PODGATE_HISTORY_DB"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string `env:"PODGATE_CONFIG"`
	ProviderURL string `env:"PODGATE_PROVIDER_URL"`
	LogLevel    string `env:"PODGATE_LOG_LEVEL"`
	HistoryDB   string `env:"PODGATE_HISTORY_DB"`
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. No variables set is not an error.
func ReadEnvOverrides() (EnvOverrides, error) {
	var env EnvOverrides

	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return EnvOverrides{}, fmt.Errorf("reading environment overrides: %w", err)
	}

	return env, nil
}
