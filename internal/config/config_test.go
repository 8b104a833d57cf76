package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv(envMap(nil))
	assert.Equal(t, "2000", cfg.Port)
	assert.Equal(t, filepath.Join("data", "claims.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join("data", "uploads"), cfg.UploadDir)
	assert.Equal(t, 5, cfg.TopK)
	assert.False(t, cfg.DisableAI)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.Embedding.Provider)
	assert.Nil(t, cfg.AI.Temperature)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"PORT":                 "8080",
		"DATA_DIR":             "/var/claims",
		"OPENAI_API_KEY":       " secret ",
		"OPENAI_TEMPERATURE":   "0.5",
		"OPENAI_MAX_TOKENS":    "256",
		"DISABLE_AI":           "TRUE",
		"EMBEDDING_PROVIDER":   "openai",
		"EMBEDDING_CACHE_SIZE": "42",
		"RETRIEVAL_TOP_K":      "8",
		"RULES_CONFIG":         "rules.yaml",
		"ALLOWED_ORIGINS":      "http://a.test, ,http://b.test",
	}))
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, filepath.Join("/var/claims", "claims.db"), cfg.DBPath)
	assert.Equal(t, "secret", cfg.AI.APIKey)
	assert.Equal(t, "secret", cfg.Embedding.APIKey)
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.5, *cfg.AI.Temperature, 1e-9)
	assert.Equal(t, 256, cfg.AI.MaxTokens)
	assert.True(t, cfg.DisableAI)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 42, cfg.Embedding.CacheSize)
	assert.Equal(t, 8, cfg.TopK)
	assert.Equal(t, "rules.yaml", cfg.RulesPath)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestFromEnvIgnoresMalformedNumbers(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"DB_PATH":           "/tmp/x.db",
		"OPENAI_MAX_TOKENS": "lots",
		"RETRIEVAL_TOP_K":   "-3",
	}))
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Zero(t, cfg.AI.MaxTokens)
	assert.Equal(t, 5, cfg.TopK)
}

func TestFromEnvTemperature(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{"OPENAI_TEMPERATURE": "0"}))
	require.NotNil(t, cfg.AI.Temperature)
	assert.Zero(t, *cfg.AI.Temperature)

	for _, raw := range []string{"warm", "-1"} {
		cfg = FromEnv(envMap(map[string]string{"OPENAI_TEMPERATURE": raw}))
		assert.Nil(t, cfg.AI.Temperature, raw)
	}
}
