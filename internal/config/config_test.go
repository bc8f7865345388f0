package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty dir so a developer's real config is not read.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "127.0.0.1:37780", cfg.ListenAddr())
	assert.Equal(t, 90*24*time.Hour, cfg.DecayWindow())
}

func TestLoadYAMLFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "keepsake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 40000
memory:
  retrieval_mode: similarity
  cache_ttl: 30s
decay:
  policy: incremental
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40000, cfg.Server.Port)
	assert.Equal(t, "similarity", cfg.Memory.RetrievalMode)
	assert.Equal(t, 30*time.Second, cfg.Memory.CacheTTL)
	assert.Equal(t, "incremental", cfg.Decay.Policy)
	// untouched keys keep their defaults
	assert.Equal(t, 50, cfg.Memory.RetrievalLimit)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("KEEPSAKE_MEMORY_CACHE_TTL", "5m")
	t.Setenv("KEEPSAKE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Memory.CacheTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadAnthropicKeySelectsProvider(t *testing.T) {
	isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.AnthropicKey)
}

func TestLoadMissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Memory.RetrievalMode = "semantic"
	cfg.Decay.Policy = "linear"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval_mode")
	assert.Contains(t, err.Error(), "decay.policy")
}

func TestBatchLimitClamp(t *testing.T) {
	cfg := Default()
	for _, tt := range []struct{ in, want int }{
		{0, MinBatchLimit},
		{100, MinBatchLimit},
		{1000, 1000},
		{90000, MaxBatchLimit},
	} {
		cfg.Decay.BatchLimit = tt.in
		assert.Equal(t, tt.want, cfg.BatchLimit(), "batch limit %d", tt.in)
	}
}
