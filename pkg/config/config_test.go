package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_URL", "http://localhost:6334")
	t.Setenv("DATABASE_URL", "postgres://localhost/bvrag")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 1024, cfg.Models.EmbeddingDimension)
	assert.Equal(t, "imo_regulations", cfg.Vector.Collection)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 10, cfg.Session.MaxTurns)
	assert.Equal(t, 0.3, cfg.Retrieval.UtilityAlpha)
	assert.Equal(t, 0.1, cfg.Retrieval.RRFNormCeiling)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Embedding)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.LLM)
}

func TestLoad_AuthorityWeights(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Retrieval.AuthorityWeights["convention"])
	assert.Equal(t, 0.85, cfg.Retrieval.AuthorityWeights["iacs_ur"])
	assert.Equal(t, 0.7, cfg.Retrieval.AuthorityWeights["classification_rule"])
	assert.Equal(t, 0.5, cfg.Retrieval.AuthorityWeights["guidance_note"])
	assert.Equal(t, 0.6, cfg.Retrieval.DefaultAuthority)
}

func TestLoad_MissingCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestValidate_AlphaOutOfRange(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UTILITY_ALPHA", "0.9")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTILITY_ALPHA")
}
