package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvProviderURL, "https://pod.example")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvHistoryDB, "/tmp/h.db")

	env, err := ReadEnvOverrides()
	require.NoError(t, err)

	assert.Equal(t, EnvOverrides{
		ConfigPath:  "/custom/config.toml",
		ProviderURL: "https://pod.example",
		LogLevel:    "debug",
		HistoryDB:   "/tmp/h.db",
	}, env)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvProviderURL, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvHistoryDB, "")

	env, err := ReadEnvOverrides()
	require.NoError(t, err)
	assert.Equal(t, EnvOverrides{}, env)
}

func TestReadEnvOverrides_PartiallySet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvProviderURL, "https://pod.example")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvHistoryDB, "")

	env, err := ReadEnvOverrides()
	require.NoError(t, err)
	assert.Equal(t, "https://pod.example", env.ProviderURL)
	assert.Empty(t, env.ConfigPath)
}
