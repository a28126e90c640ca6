// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for podgate. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Network  NetworkConfig  `toml:"network"`
	Logging  LoggingConfig  `toml:"logging"`
	History  HistoryConfig  `toml:"history"`
	Mirror   MirrorConfig   `toml:"mirror"`
}

// ProviderConfig describes the pod provider and how podgate registers and
// logs in with it.
type ProviderConfig struct {
	URL                 string   `toml:"url"`
	PodRoot             string   `toml:"pod_root"`
	AppName             string   `toml:"app_name"`
	RedirectURIs        []string `toml:"redirect_uris"`
	Issuer              string   `toml:"issuer"`
	Audience            string   `toml:"audience"`
	VerifyIDToken       bool     `toml:"verify_id_token"`
	SendClientAssertion bool     `toml:"send_client_assertion"`
	CallbackTimeout     string   `toml:"callback_timeout"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// LoggingConfig controls log verbosity and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// HistoryConfig controls the local operation history database.
type HistoryConfig struct {
	Enabled       bool   `toml:"enabled"`
	DBPath        string `toml:"db_path"`
	RetentionDays int    `toml:"retention_days"`
}

// MirrorConfig controls "push --watch".
type MirrorConfig struct {
	Debounce string `toml:"debounce"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not
// specified".
type CLIOverrides struct {
	ConfigPath  string // --config
	ProviderURL string // --provider
}

// Resolved is the effective configuration after every layer has been
// applied, with durations parsed and paths expanded.
type Resolved struct {
	ConfigPath string

	ProviderURL         string
	PodRoot             string
	AppName             string
	RedirectURIs        []string
	Issuer              string
	Audience            string
	VerifyIDToken       bool
	SendClientAssertion bool
	CallbackTimeout     time.Duration

	Timeout   time.Duration
	UserAgent string

	LogLevel  string
	LogFormat string

	HistoryEnabled   bool
	HistoryDB        string
	HistoryRetention time.Duration

	MirrorDebounce time.Duration

	// RegistrationPath is where dynamic client registrations are cached.
	RegistrationPath string
}

// RedirectURI returns the first configured redirect URI, used for login.
func (r *Resolved) RedirectURI() string {
	if len(r.RedirectURIs) == 0 {
		return ""
	}

	return r.RedirectURIs[0]
}
