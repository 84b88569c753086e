package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8380", cfg.HTTPAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.NotEmpty(t, cfg.DBPath)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.yaml")
	content := "db_path: /tmp/test.db\nhttp_addr: 0.0.0.0:9000\nlog_level: debug\ndefault_org: acme\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/test.db", cfg.DBPath)
	require.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "acme", cfg.DefaultOrg)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CADENCE_LOG_LEVEL", "warn")
	t.Setenv("CADENCE_DEFAULT_ORG", "env-org")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "env-org", cfg.DefaultOrg)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load("/nonexistent/cadence.yaml")
	require.Error(t, err)
}
