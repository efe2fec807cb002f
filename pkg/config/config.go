package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process-wide settings. It is loaded once at boot from
// environment variables and never mutated afterwards.
type Config struct {
	Server    ServerConfig
	Models    ModelConfig
	Vector    VectorConfig
	Postgres  PostgresConfig
	Graph     GraphConfig
	Session   SessionConfig
	Retrieval RetrievalConfig
	Knowledge KnowledgeConfig
	Timeouts  TimeoutConfig
	LogLevel  string
}

type ServerConfig struct {
	Host                  string
	Port                  int
	MaxConcurrentRequests int
}

type ModelConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string

	PrimaryModel string
	FastModel    string

	EmbeddingModel     string
	EmbeddingDimension int

	STTModel string
	TTSModel string
	TTSVoice string
}

type VectorConfig struct {
	URL        string
	APIKey     string
	Collection string
}

type PostgresConfig struct {
	DSN string
}

type GraphConfig struct {
	URI      string
	User     string
	Password string
}

type SessionConfig struct {
	RedisURL string
	TTL      time.Duration
	MaxTurns int
}

// RetrievalConfig groups the tunables of fusion and utility reranking.
type RetrievalConfig struct {
	UtilityAlpha        float64
	UtilityLearningRate float64
	// RRFNormCeiling clips raw RRF scores before blending with utility.
	RRFNormCeiling float64
	// AuthorityWeights maps authority level to a fused-score multiplier.
	AuthorityWeights map[string]float64
	DefaultAuthority float64
}

type KnowledgeConfig struct {
	Dir string
}

type TimeoutConfig struct {
	Embedding   time.Duration
	IndexLeg    time.Duration
	LLM         time.Duration
	Coreference time.Duration
	Utility     time.Duration
}

// Load reads configuration from the environment and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:                  envStr("BVRAG_HOST", "0.0.0.0"),
			Port:                  envInt("PORT", 8000),
			MaxConcurrentRequests: envInt("BVRAG_MAX_CONCURRENT", 10),
		},
		Models: ModelConfig{
			AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
			PrimaryModel:       envStr("LLM_MODEL_PRIMARY", "claude-sonnet-4-20250514"),
			FastModel:          envStr("LLM_MODEL_FAST", "claude-haiku-4-5-20251001"),
			EmbeddingModel:     envStr("EMBEDDING_MODEL", "text-embedding-3-large"),
			EmbeddingDimension: envInt("EMBEDDING_DIMENSIONS", 1024),
			STTModel:           envStr("STT_MODEL", "gpt-4o-mini-transcribe"),
			TTSModel:           envStr("TTS_MODEL", "gpt-4o-mini-tts"),
			TTSVoice:           envStr("TTS_VOICE", "ash"),
		},
		Vector: VectorConfig{
			URL:        os.Getenv("QDRANT_URL"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: envStr("QDRANT_COLLECTION", "imo_regulations"),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Graph: GraphConfig{
			URI:      os.Getenv("NEO4J_URI"),
			User:     envStr("NEO4J_USER", "neo4j"),
			Password: os.Getenv("NEO4J_PASSWORD"),
		},
		Session: SessionConfig{
			RedisURL: os.Getenv("REDIS_URL"),
			TTL:      time.Duration(envInt("SESSION_TTL_HOURS", 24)) * time.Hour,
			MaxTurns: envInt("MAX_CONVERSATION_TURNS", 10),
		},
		Retrieval: RetrievalConfig{
			UtilityAlpha:        envFloat("UTILITY_ALPHA", 0.3),
			UtilityLearningRate: envFloat("UTILITY_LEARNING_RATE", 0.1),
			RRFNormCeiling:      envFloat("RRF_NORM_CEILING", 0.1),
			AuthorityWeights:    defaultAuthorityWeights(),
			DefaultAuthority:    0.6,
		},
		Knowledge: KnowledgeConfig{
			Dir: envStr("KNOWLEDGE_DIR", "knowledge/practical"),
		},
		Timeouts: TimeoutConfig{
			Embedding:   envDuration("TIMEOUT_EMBEDDING", 2*time.Second),
			IndexLeg:    envDuration("TIMEOUT_INDEX_LEG", 3*time.Second),
			LLM:         envDuration("TIMEOUT_LLM", 20*time.Second),
			Coreference: envDuration("TIMEOUT_COREFERENCE", 4*time.Second),
			Utility:     envDuration("TIMEOUT_UTILITY", 2*time.Second),
		},
		LogLevel: envStr("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.Models.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.Models.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.Vector.URL == "" {
		return fmt.Errorf("QDRANT_URL is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Session.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Models.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.Models.EmbeddingDimension)
	}
	if c.Retrieval.UtilityAlpha < 0 || c.Retrieval.UtilityAlpha > 0.5 {
		return fmt.Errorf("UTILITY_ALPHA must be in [0, 0.5], got %v", c.Retrieval.UtilityAlpha)
	}
	return nil
}

// defaultAuthorityWeights expresses the relative authority of sources:
// convention > IACS UR > classification rule > guidance note.
func defaultAuthorityWeights() map[string]float64 {
	return map[string]float64{
		"convention":          1.0,
		"resolution":          1.0,
		"iacs_ur":             0.85,
		"iacs_ui":             0.85,
		"classification_rule": 0.7,
		"guidance_note":       0.5,
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
