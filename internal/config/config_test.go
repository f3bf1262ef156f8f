package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE",
		"ENV",
		"OPENAI_API_KEY",
		"AIHUB_KNOWLEDGE_CHUNK_SIZE",
		"AIHUB_KNOWLEDGE_CHUNK_OVERLAP",
		"AIHUB_KNOWLEDGE_EMBEDDING_PROVIDER",
		"AIHUB_AI_GENERATION_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestConfigLoader_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 300, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 50, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 5, cfg.Knowledge.TopK)
	assert.Equal(t, 32, cfg.Knowledge.EmbeddingBatchSize)
	assert.Equal(t, "faiss_index", cfg.Knowledge.IndexPath)
	assert.Equal(t, 1000, cfg.Knowledge.Index.FlatThreshold)
	assert.Equal(t, 100, cfg.Knowledge.Index.MaxClusters)
	assert.Equal(t, 1, cfg.Knowledge.Index.NProbe)
	assert.Equal(t, 30*time.Second, cfg.AI.GenerationTimeout)
	assert.Equal(t, "hash", cfg.Knowledge.Embedding.Provider)
	assert.False(t, cfg.Redis.Enabled)
	assert.InDelta(t, 0.7, cfg.AI.Temperature, 1e-9)
	assert.Equal(t, 2*time.Hour, cfg.Server.SessionIdleTTL)
	assert.Equal(t, 30, cfg.Server.RateLimit)
}

func TestConfigLoader_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIHUB_KNOWLEDGE_CHUNK_SIZE", "500")
	t.Setenv("AIHUB_AI_GENERATION_TIMEOUT", "5s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.AI.GenerationTimeout)
	assert.Equal(t, "sk-test", cfg.AI.OpenAIAPIKey)
}

func TestConfigLoader_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("knowledge:\n  chunk_size: 120\n  chunk_overlap: 10\n  index:\n    nprobe: 4\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 10, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 4, cfg.Knowledge.Index.NProbe)
}

func TestConfigLoader_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero chunk size", map[string]string{"AIHUB_KNOWLEDGE_CHUNK_SIZE": "0"}},
		{"overlap not smaller than size", map[string]string{"AIHUB_KNOWLEDGE_CHUNK_OVERLAP": "300"}},
		{"unknown embedding provider", map[string]string{"AIHUB_KNOWLEDGE_EMBEDDING_PROVIDER": "bert"}},
		{"openai without key", map[string]string{"AIHUB_KNOWLEDGE_EMBEDDING_PROVIDER": "openai"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfigLoader().Load()
			assert.Error(t, err)
		})
	}
}
