package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ProviderURL != "" {
		cfg.Provider.URL = env.ProviderURL
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = env.LogLevel
	}

	if env.HistoryDB != "" {
		cfg.History.DBPath = env.HistoryDB
	}

	if cli.ProviderURL != "" {
		cfg.Provider.URL = cli.ProviderURL
	}

	// Environment and flags can introduce invalid values the file check
	// never saw.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	resolved := resolve(cfg, cfgPath)

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// resolve flattens a validated Config. Durations have already been checked
// by Validate, so parse errors cannot occur here.
func resolve(cfg *Config, cfgPath string) *Resolved {
	dataDir := DefaultDataDir()

	dbPath := expandTilde(cfg.History.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, historyFileName)
	}

	return &Resolved{
		ConfigPath: cfgPath,

		ProviderURL:         cfg.Provider.URL,
		PodRoot:             cfg.Provider.PodRoot,
		AppName:             cfg.Provider.AppName,
		RedirectURIs:        cfg.Provider.RedirectURIs,
		Issuer:              cfg.Provider.Issuer,
		Audience:            cfg.Provider.Audience,
		VerifyIDToken:       cfg.Provider.VerifyIDToken,
		SendClientAssertion: cfg.Provider.SendClientAssertion,
		CallbackTimeout:     parsedDuration(cfg.Provider.CallbackTimeout),

		Timeout:   parsedDuration(cfg.Network.Timeout),
		UserAgent: cfg.Network.UserAgent,

		LogLevel:  cfg.Logging.LogLevel,
		LogFormat: cfg.Logging.LogFormat,

		HistoryEnabled:   cfg.History.Enabled,
		HistoryDB:        dbPath,
		HistoryRetention: time.Duration(cfg.History.RetentionDays) * hoursPerDay * time.Hour,

		MirrorDebounce: parsedDuration(cfg.Mirror.Debounce),

		RegistrationPath: filepath.Join(dataDir, registrationsFileName),
	}
}

func parsedDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
