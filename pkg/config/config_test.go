package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, v := range []string{
		"GITHUB_TOKEN", "MERGEFLOW_FLOWS_DIR", "MERGEFLOW_EVIDENCE_DIR",
		"MERGEFLOW_ARCHIVE_DIR", "MERGEFLOW_SIGNING_KEY", "MERGEFLOW_WORKDIR",
		"MERGEFLOW_FLOW", "MERGEFLOW_CONCURRENCY", "MERGEFLOW_ISOLATE",
	} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := Load()
	require.NoError(t, err)

	configDir := filepath.Join(home, ".mergeflow")
	assert.Equal(t, configDir, cfg.ConfigDir)
	assert.Equal(t, filepath.Join(configDir, "flows"), cfg.FlowsDir)
	assert.Equal(t, filepath.Join(configDir, "evidence"), cfg.EvidenceDir)
	assert.Equal(t, filepath.Join(configDir, "archive"), cfg.ArchiveDir)
	assert.Equal(t, filepath.Join(configDir, "keys"), cfg.KeyDir)
	assert.Equal(t, "mergeflow", cfg.SigningKey)
	assert.Equal(t, "integrative", cfg.DefaultFlow)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.Isolate)
	assert.Empty(t, cfg.GitHubToken)
}

func TestLoadFileConfig(t *testing.T) {
	home := isolateHome(t)
	configDir := filepath.Join(home, ".mergeflow")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	body := `github_token: file-token
default_flow: nightly
concurrency: 8
isolate: true
archive_dir: /var/lib/mergeflow/archive
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(body), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.GitHubToken)
	assert.Equal(t, "nightly", cfg.DefaultFlow)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.True(t, cfg.Isolate)
	assert.Equal(t, "/var/lib/mergeflow/archive", cfg.ArchiveDir)
}

func TestEnvOverridesFile(t *testing.T) {
	home := isolateHome(t)
	configDir := filepath.Join(home, ".mergeflow")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"),
		[]byte("github_token: file-token\ndefault_flow: nightly\n"), 0644))

	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("MERGEFLOW_FLOW", "integrative")
	t.Setenv("MERGEFLOW_CONCURRENCY", "2")
	t.Setenv("MERGEFLOW_ISOLATE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.GitHubToken)
	assert.Equal(t, "integrative", cfg.DefaultFlow)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.True(t, cfg.Isolate)
}

func TestInvalidConcurrencyEnv(t *testing.T) {
	isolateHome(t)
	t.Setenv("MERGEFLOW_CONCURRENCY", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestFlowManifestPath(t *testing.T) {
	home := isolateHome(t)
	flowsDir := filepath.Join(home, ".mergeflow", "flows")
	require.NoError(t, os.MkdirAll(flowsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(flowsDir, "nightly.yaml"), []byte("name: nightly\n"), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(flowsDir, "nightly.yaml"), cfg.FlowManifestPath("nightly"))
	assert.Empty(t, cfg.FlowManifestPath("missing"))
}
