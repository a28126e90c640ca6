package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the config file written by "config init". Every setting
// is present as a commented-out default.
const configTemplate = `# podgate configuration

[provider]
# Identity provider and pod server.
# url = "https://pod.example"

# Pod root when it differs from the provider URL.
# pod_root = ""

# client_name sent during dynamic registration
# app_name = "podgate"

# The first entry is used for browser login.
# redirect_uris = ["http://localhost:3001/callback"]

# Client assertion issuer and audience (default: redirect URI origin)
# issuer = ""
# audience = ""

# verify_id_token = false
# send_client_assertion = false
# callback_timeout = "5m"

[network]
# timeout = "30s"
# user_agent = ""

[logging]
# debug, info, warn, error
# log_level = "info"
# auto, text, json
# log_format = "auto"

[history]
# enabled = true
# db_path = ""
# retention_days = 30

[mirror]
# debounce = "500ms"
`

// WriteDefault writes the commented default config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s: %w", path, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file %s: %w", path, err)
	}

	slog.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
