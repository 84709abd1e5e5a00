package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Graph.Driver)
	assert.Equal(t, 10, cfg.Ingest.MaxInflightEpisodes)
	assert.Equal(t, 8, cfg.Ingest.LLMSemaphore)
	assert.Equal(t, "default", cfg.Ingest.DefaultGroupID)
	assert.Equal(t, 1536, cfg.Embedder.VectorDim)
	assert.Equal(t, 2*time.Second, cfg.LLM.RetryBase())
	assert.Equal(t, 120*time.Second, cfg.LLM.RetryCap())
	assert.Equal(t, 5, cfg.LLM.RetryMaxAttempt)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Embedder.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Graph.QueryTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
ingest:
  max_inflight_episodes: 4
  episode_spacing_ms: 250
  default_group_id: team-a
llm:
  llm_model: gpt-4o
  llm_retry_base_ms: 100
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Ingest.MaxInflightEpisodes)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.EpisodeSpacing())
	assert.Equal(t, "team-a", cfg.Ingest.DefaultGroupID)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 100*time.Millisecond, cfg.LLM.RetryBase())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Ingest.MaxInflightEpisodes = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Graph.Driver = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Embedder.VectorDim = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://db:7687")
	t.Setenv("NEO4J_USER", "svc")
	t.Setenv("NEO4J_PASSWORD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "neo4j", cfg.Graph.Driver)
	assert.Equal(t, "bolt://db:7687", cfg.Graph.URL)
	assert.Equal(t, "svc", cfg.Graph.User)
	assert.Equal(t, "secret", cfg.Graph.Password)
}
