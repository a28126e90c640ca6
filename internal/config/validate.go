package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"time"
)

// Validation range constants.
const (
	minTimeout         = 1 * time.Second
	minCallbackTimeout = 10 * time.Second
	maxDebounce        = time.Minute
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateMirror(&cfg.Mirror)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense on the final
// merged result.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.HistoryEnabled && !filepath.IsAbs(r.HistoryDB) {
		errs = append(errs, fmt.Errorf("history.db_path: must be absolute after expansion, got %q", r.HistoryDB))
	}

	return errors.Join(errs...)
}

func validateProvider(p *ProviderConfig) []error {
	var errs []error

	if p.URL != "" {
		errs = append(errs, validateHTTPURL("provider.url", p.URL)...)
	}

	if p.PodRoot != "" {
		errs = append(errs, validateHTTPURL("provider.pod_root", p.PodRoot)...)
	}

	if p.AppName == "" {
		errs = append(errs, errors.New("provider.app_name: must not be empty"))
	}

	if len(p.RedirectURIs) == 0 {
		errs = append(errs, errors.New("provider.redirect_uris: at least one redirect URI is required"))
	}

	for i, u := range p.RedirectURIs {
		errs = append(errs, validateHTTPURL(fmt.Sprintf("provider.redirect_uris[%d]", i), u)...)
	}

	errs = append(errs, validateDurationMin("provider.callback_timeout", p.CallbackTimeout, minCallbackTimeout)...)

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	return validateDurationMin("network.timeout", n.Timeout, minTimeout)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %v, got %q", validLogLevels, l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %v, got %q", validLogFormats, l.LogFormat))
	}

	return errs
}

func validateHistory(h *HistoryConfig) []error {
	if h.RetentionDays < 0 {
		return []error{fmt.Errorf("history.retention_days: must be >= 0, got %d", h.RetentionDays)}
	}

	return nil
}

func validateMirror(m *MirrorConfig) []error {
	d, err := time.ParseDuration(m.Debounce)
	if err != nil {
		return []error{fmt.Errorf("mirror.debounce: invalid duration %q: %w", m.Debounce, err)}
	}

	if d <= 0 || d > maxDebounce {
		return []error{fmt.Errorf("mirror.debounce: must be positive and at most %s, got %s", maxDebounce, m.Debounce)}
	}

	return nil
}

func validateHTTPURL(field, raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}
