package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("JOB_BACKOFF_MS", "")
	t.Setenv("EMBEDDING_PROVIDER", "")

	cfg := Load()

	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 40, cfg.UpsertBatchSize)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, 3, cfg.JobAttempts)
	assert.Equal(t, 2*time.Second, cfg.JobBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.JobDelay)
	assert.Equal(t, 5, cfg.ReadyMaxAttempts)
	assert.Equal(t, "openai", cfg.EmbeddingProvider)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "100")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("READY_SETTLE_MS", "50")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("EMBEDDING_PROVIDER", "Gemini")

	cfg := Load()

	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.ReadySettle)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "gemini", cfg.EmbeddingProvider)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("QDRANT_PORT", "not-a-port")
	t.Setenv("JOB_RETENTION", "forever")

	cfg := Load()

	assert.Equal(t, 6334, cfg.QdrantPort)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
}

func TestLoad_MCPAuthTokens(t *testing.T) {
	t.Setenv("MCP_AUTH_TOKENS", "tok-a:user_1, tok-b : user_2,broken,:nobody,tok-c:")

	cfg := Load()

	assert.Equal(t, map[string]string{"tok-a": "user_1", "tok-b": "user_2"}, cfg.MCPAuthTokens)

	t.Setenv("MCP_AUTH_TOKENS", "")
	assert.Empty(t, Load().MCPAuthTokens)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ChunkSize:         1000,
			ChunkOverlap:      200,
			UpsertBatchSize:   40,
			WorkerConcurrency: 5,
			JobAttempts:       3,
			ReadyMaxAttempts:  5,
			EmbeddingProvider: "openai",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap equals size", func(c *Config) { c.ChunkOverlap = 1000 }},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"zero batch", func(c *Config) { c.UpsertBatchSize = 0 }},
		{"zero concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"zero attempts", func(c *Config) { c.JobAttempts = 0 }},
		{"zero readiness attempts", func(c *Config) { c.ReadyMaxAttempts = 0 }},
		{"unknown provider", func(c *Config) { c.EmbeddingProvider = "cohere" }},
	}

	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
