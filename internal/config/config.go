// Package config loads runtime configuration from the process environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMConfig configures the chat/generation capability.
type LLMConfig struct {
	Provider              string
	Model                 string
	BaseURL               string
	APIKey                string
	Temperature           float64
	MaxTokens             int
	MaxConcurrentRequests int
}

// VectorizeConfig configures the embedding capability.
type VectorizeConfig struct {
	Provider       string // "deepinfra" | "vllm"
	APIKey         string
	APIHeader      string
	BaseURL        string
	Path           string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	BatchSize      int
	MaxConcurrent  int
	EncodingFormat string
}

// RerankConfig configures the rerank capability.
type RerankConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	BatchSize     int
	MaxConcurrent int
}

// QueueConfig configures the partitioned Redis work queue.
type QueueConfig struct {
	KeyPrefix               string
	GlobalPrefix            string
	SerializationMode       string // "json" | "bson"
	MaxTotalMessages        int
	ExpireSeconds           int
	ActivityExpireSeconds   int
	EnableMetrics           bool
	LogIntervalSeconds      int
	CleanupIntervalSeconds  int
}

// CacheConfig configures the windowed/length-bounded ZSET caches (spec
// §4.7). CleanupProbability and WindowCleanupProbability both default to
// 0.1: every append has a 10% chance of triggering the matching eviction
// pass instead of running it unconditionally.
type CacheConfig struct {
	GlobalPrefix            string
	MaxLength               int
	ExpireMinutes           int
	CleanupProbability      float64
	WindowCleanupProbability float64
}

// RedisConfig configures the Redis connection backing the work queue, caches,
// and per-key ZSET structures.
type RedisConfig struct {
	Enabled               bool
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// DBBackendConfig configures one persistence backend slot (search, vector, or
// graph); Backend selects among "memory", "auto", "postgres", or "none".
type DBBackendConfig struct {
	Backend    string
	DSN        string
	Dimensions int
	Metric     string
}

// DBConfig configures the persistence backends behind MemCellRepo,
// EpisodeRepo, EventLogRepo, and the other repository interfaces.
type DBConfig struct {
	DefaultDSN string
	Search     DBBackendConfig
	Vector     DBBackendConfig
	Graph      DBBackendConfig
	Entity     DBBackendConfig
}

// AgenticConfig configures the agentic retrieval loop (spec §4.5).
type AgenticConfig struct {
	Round1TopN         int
	Round1RerankTopN   int
	NumQueries         int
	Round2PerQueryTopN int
	CombinedTotal      int
	FinalTopN          int
	UseReranker        bool
	SufficiencyTemp    float64
	MultiQueryTemp     float64
	Timeout            time.Duration
	FallbackOnError    bool
}

// DefaultAgenticConfig returns the spec §4.5 default parameter table.
func DefaultAgenticConfig() AgenticConfig {
	return AgenticConfig{
		Round1TopN:         20,
		Round1RerankTopN:   5,
		NumQueries:         3,
		Round2PerQueryTopN: 50,
		CombinedTotal:      40,
		FinalTopN:          20,
		UseReranker:        true,
		SufficiencyTemp:    0.0,
		MultiQueryTemp:     0.4,
		Timeout:            60 * time.Second,
		FallbackOnError:    true,
	}
}

// AgenticDefaultsFromEnv returns DefaultAgenticConfig with any
// AGENTIC_* environment overrides applied.
func AgenticDefaultsFromEnv() AgenticConfig {
	cfg := DefaultAgenticConfig()
	if n, ok := envInt("AGENTIC_ROUND1_TOP_N"); ok {
		cfg.Round1TopN = n
	}
	if n, ok := envInt("AGENTIC_ROUND1_RERANK_TOP_N"); ok {
		cfg.Round1RerankTopN = n
	}
	if n, ok := envInt("AGENTIC_NUM_QUERIES"); ok {
		cfg.NumQueries = n
	}
	if n, ok := envInt("AGENTIC_ROUND2_PER_QUERY_TOP_N"); ok {
		cfg.Round2PerQueryTopN = n
	}
	if n, ok := envInt("AGENTIC_COMBINED_TOTAL"); ok {
		cfg.CombinedTotal = n
	}
	if n, ok := envInt("AGENTIC_FINAL_TOP_N"); ok {
		cfg.FinalTopN = n
	}
	if v := strings.TrimSpace(os.Getenv("AGENTIC_USE_RERANKER")); v != "" {
		cfg.UseReranker = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("AGENTIC_FALLBACK_ON_ERROR")); v != "" {
		cfg.FallbackOnError = strings.EqualFold(v, "true") || v == "1"
	}
	if s, ok := envSeconds("AGENTIC_TIMEOUT_SECONDS"); ok {
		cfg.Timeout = s
	}
	return cfg
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envSeconds(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// ObsConfig configures OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// Config is the complete set of runtime options recognized via environment
// variables (spec §6 "Configuration surface").
type Config struct {
	Language string // "en" | "zh"
	TZ       *time.Location

	LLM       LLMConfig
	Vectorize VectorizeConfig
	Rerank    RerankConfig
	Queue     QueueConfig
	Cache     CacheConfig
	Redis     RedisConfig
	DB        DBConfig
	Obs       ObsConfig
	Agentic   AgenticConfig

	QdrantAddr string
}
