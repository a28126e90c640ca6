package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	ew.printf("[provider]\n")
	ew.printf("  url                   = %q\n", r.ProviderURL)

	if r.PodRoot != "" {
		ew.printf("  pod_root              = %q\n", r.PodRoot)
	}

	ew.printf("  app_name              = %q\n", r.AppName)
	ew.printf("  redirect_uris         = [%s]\n", joinQuoted(r.RedirectURIs))

	if r.Issuer != "" {
		ew.printf("  issuer                = %q\n", r.Issuer)
	}

	if r.Audience != "" {
		ew.printf("  audience              = %q\n", r.Audience)
	}

	ew.printf("  verify_id_token       = %t\n", r.VerifyIDToken)
	ew.printf("  send_client_assertion = %t\n", r.SendClientAssertion)
	ew.printf("  callback_timeout      = %q\n", r.CallbackTimeout.String())
	ew.printf("\n")

	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", r.Timeout.String())

	if r.UserAgent != "" {
		ew.printf("  user_agent = %q\n", r.UserAgent)
	}

	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)
	ew.printf("\n")

	ew.printf("[history]\n")
	ew.printf("  enabled        = %t\n", r.HistoryEnabled)
	ew.printf("  db_path        = %q\n", r.HistoryDB)
	ew.printf("  retention_days = %d\n", int(r.HistoryRetention.Hours())/hoursPerDay)
	ew.printf("\n")

	ew.printf("[mirror]\n")
	ew.printf("  debounce = %q\n", r.MirrorDebounce.String())

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
