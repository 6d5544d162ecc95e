package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	t.Setenv("OAUTH_STATE_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 5, cfg.Ingest.BatchSize)
	assert.Equal(t, Duration(10*time.Minute), cfg.OAuth.StateTTL)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embedding.Model)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("OAUTH_STATE_SECRET", "test-secret")
	path := writeConfig(t, `
server:
  port: 9090
logging:
  format: console
ingest:
  chunk_size: 500
  chunk_overlap: 100
qdrant:
  host: qdrant.internal
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	// Untouched sections keep their defaults.
	assert.Equal(t, 6334, cfg.Qdrant.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("OAUTH_STATE_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("INGEST_BATCH_SIZE", "3")
	path := writeConfig(t, `
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Ingest.BatchSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OAUTH_STATE_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRequiresStateSecret(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_secret")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("OAUTH_STATE_SECRET", "test-secret")
	path := writeConfig(t, `
ingest:
  chunk_size: 100
  chunk_overlap: 100
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestEnvTransformDropsUnknownPrefixes(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("SERVER_PORT"))
	assert.Equal(t, "oauth.client_secret", envTransform("OAUTH_CLIENT_SECRET"))
	assert.Equal(t, "", envTransform("PATH"))
	assert.Equal(t, "", envTransform("HOME"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")
}
