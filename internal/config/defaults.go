package config

// Default values for configuration options. Chosen so that podgate works
// against a local development provider without any config file.
const (
	defaultAppName         = "podgate"
	defaultRedirectURI     = "http://localhost:3001/callback"
	defaultCallbackTimeout = "5m"
	defaultTimeout         = "30s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultRetentionDays   = 30
	defaultMirrorDebounce  = "500ms"
	historyFileName        = "history.db"
	registrationsFileName  = "registrations.json"
	hoursPerDay            = 24
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			AppName:         defaultAppName,
			RedirectURIs:    []string{defaultRedirectURI},
			CallbackTimeout: defaultCallbackTimeout,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: defaultRetentionDays,
		},
		Mirror: MirrorConfig{
			Debounce: defaultMirrorDebounce,
		},
	}
}
