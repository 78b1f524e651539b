package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables,
	// matching local-development expectations.
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Language = strings.ToLower(strings.TrimSpace(os.Getenv("MEMORY_LANGUAGE")))
	if cfg.Language != "en" && cfg.Language != "zh" {
		cfg.Language = "en"
	}

	tzName := firstNonEmpty(strings.TrimSpace(os.Getenv("TZ")), "Asia/Shanghai")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, fmt.Errorf("load TZ %q: %w", tzName, err)
	}
	cfg.TZ = loc

	cfg.LLM.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	cfg.LLM.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))
	cfg.LLM.BaseURL = strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("LLM_TEMPERATURE")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MAX_TOKENS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MAX_CONCURRENT_REQUESTS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.LLM.MaxConcurrentRequests = n
		}
	}
	if cfg.LLM.MaxConcurrentRequests == 0 {
		cfg.LLM.MaxConcurrentRequests = 5
	}

	cfg.Vectorize.Provider = strings.TrimSpace(os.Getenv("VECTORIZE_PROVIDER"))
	cfg.Vectorize.APIKey = strings.TrimSpace(os.Getenv("VECTORIZE_API_KEY"))
	cfg.Vectorize.BaseURL = strings.TrimSpace(os.Getenv("VECTORIZE_BASE_URL"))
	cfg.Vectorize.Model = strings.TrimSpace(os.Getenv("VECTORIZE_MODEL"))
	cfg.Vectorize.EncodingFormat = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTORIZE_ENCODING_FORMAT")), "float")
	cfg.Vectorize.APIHeader = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTORIZE_API_HEADER")), "Authorization")
	cfg.Vectorize.Path = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTORIZE_PATH")), "/v1/embeddings")
	if v := strings.TrimSpace(os.Getenv("VECTORIZE_TIMEOUT")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Vectorize.Timeout = time.Duration(n) * time.Second
		}
	}
	if cfg.Vectorize.Timeout == 0 {
		cfg.Vectorize.Timeout = 30 * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("VECTORIZE_MAX_RETRIES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Vectorize.MaxRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("VECTORIZE_BATCH_SIZE")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Vectorize.BatchSize = n
		}
	}
	if cfg.Vectorize.BatchSize == 0 {
		cfg.Vectorize.BatchSize = 32
	}
	if v := strings.TrimSpace(os.Getenv("VECTORIZE_MAX_CONCURRENT")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Vectorize.MaxConcurrent = n
		}
	}
	if cfg.Vectorize.MaxConcurrent == 0 {
		cfg.Vectorize.MaxConcurrent = 4
	}

	cfg.Rerank.Provider = strings.TrimSpace(os.Getenv("RERANK_PROVIDER"))
	cfg.Rerank.APIKey = strings.TrimSpace(os.Getenv("RERANK_API_KEY"))
	cfg.Rerank.BaseURL = strings.TrimSpace(os.Getenv("RERANK_BASE_URL"))
	cfg.Rerank.Model = strings.TrimSpace(os.Getenv("RERANK_MODEL"))
	if v := strings.TrimSpace(os.Getenv("RERANK_TIMEOUT")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Rerank.Timeout = time.Duration(n) * time.Second
		}
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 15 * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("RERANK_MAX_RETRIES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Rerank.MaxRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RERANK_BATCH_SIZE")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Rerank.BatchSize = n
		}
	}
	if cfg.Rerank.BatchSize == 0 {
		cfg.Rerank.BatchSize = 16
	}
	if v := strings.TrimSpace(os.Getenv("RERANK_MAX_CONCURRENT")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Rerank.MaxConcurrent = n
		}
	}
	if cfg.Rerank.MaxConcurrent == 0 {
		cfg.Rerank.MaxConcurrent = 4
	}

	cfg.Queue.KeyPrefix = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_QUEUE_KEY_PREFIX")), "memq")
	cfg.Queue.GlobalPrefix = firstNonEmpty(strings.TrimSpace(os.Getenv("GLOBAL_REDIS_PREFIX")), "evermem")
	cfg.Queue.SerializationMode = strings.ToLower(strings.TrimSpace(os.Getenv("REDIS_QUEUE_SERIALIZATION_MODE")))
	if cfg.Queue.SerializationMode != "json" && cfg.Queue.SerializationMode != "bson" {
		cfg.Queue.SerializationMode = "json"
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_QUEUE_MAX_TOTAL_MESSAGES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.MaxTotalMessages = n
		}
	}
	if cfg.Queue.MaxTotalMessages == 0 {
		cfg.Queue.MaxTotalMessages = 100000
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_QUEUE_EXPIRE_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.ExpireSeconds = n
		}
	}
	if cfg.Queue.ExpireSeconds == 0 {
		cfg.Queue.ExpireSeconds = 3600
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_QUEUE_ACTIVITY_EXPIRE_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.ActivityExpireSeconds = n
		}
	}
	if cfg.Queue.ActivityExpireSeconds == 0 {
		cfg.Queue.ActivityExpireSeconds = 60
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_QUEUE_ENABLE_METRICS")); v != "" {
		cfg.Queue.EnableMetrics = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_QUEUE_LOG_INTERVAL_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.LogIntervalSeconds = n
		}
	}
	if cfg.Queue.LogIntervalSeconds == 0 {
		cfg.Queue.LogIntervalSeconds = 30
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_QUEUE_CLEANUP_INTERVAL_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.CleanupIntervalSeconds = n
		}
	}
	if cfg.Queue.CleanupIntervalSeconds == 0 {
		cfg.Queue.CleanupIntervalSeconds = 60
	}

	cfg.Cache.GlobalPrefix = firstNonEmpty(strings.TrimSpace(os.Getenv("GLOBAL_REDIS_PREFIX")), "evermem")
	if v := strings.TrimSpace(os.Getenv("CACHE_MAX_LENGTH")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Cache.MaxLength = n
		}
	}
	if cfg.Cache.MaxLength == 0 {
		cfg.Cache.MaxLength = 100
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_EXPIRE_MINUTES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Cache.ExpireMinutes = n
		}
	}
	if cfg.Cache.ExpireMinutes == 0 {
		cfg.Cache.ExpireMinutes = 60
	}
	cfg.Cache.CleanupProbability = 0.1
	if v := strings.TrimSpace(os.Getenv("CACHE_CLEANUP_PROBABILITY")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Cache.CleanupProbability = f
		}
	}
	cfg.Cache.WindowCleanupProbability = 0.1
	if v := strings.TrimSpace(os.Getenv("CACHE_WINDOW_CLEANUP_PROBABILITY")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Cache.WindowCleanupProbability = f
		}
	}

	cfg.Redis.Enabled = true
	cfg.Redis.Addr = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_ADDR")), "localhost:6379")
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY")); v != "" {
		cfg.Redis.TLSInsecureSkipVerify = strings.EqualFold(v, "true") || v == "1"
	}

	cfg.DB.DefaultDSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.DB.Search.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("SEARCH_BACKEND")), "auto")
	cfg.DB.Search.DSN = strings.TrimSpace(os.Getenv("SEARCH_DSN"))
	cfg.DB.Vector.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")), "auto")
	cfg.DB.Vector.DSN = strings.TrimSpace(os.Getenv("VECTOR_DSN"))
	if v := strings.TrimSpace(os.Getenv("VECTOR_DIMENSIONS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.DB.Vector.Dimensions = n
		}
	}
	cfg.DB.Vector.Metric = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_METRIC")), "cosine")
	cfg.DB.Graph.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("GRAPH_BACKEND")), "auto")
	cfg.DB.Graph.DSN = strings.TrimSpace(os.Getenv("GRAPH_DSN"))
	cfg.DB.Entity.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("ENTITY_BACKEND")), "auto")
	cfg.DB.Entity.DSN = strings.TrimSpace(os.Getenv("ENTITY_DSN"))

	cfg.QdrantAddr = strings.TrimSpace(os.Getenv("QDRANT_ADDR"))

	cfg.Agentic = AgenticDefaultsFromEnv()

	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "evermemd")
	cfg.Obs.ServiceVersion = strings.TrimSpace(os.Getenv("SERVICE_VERSION"))
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "dev")
	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	if cfg.LLM.Provider == "" {
		return Config{}, fmt.Errorf("LLM_PROVIDER is required")
	}
	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("LLM_API_KEY is required")
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
