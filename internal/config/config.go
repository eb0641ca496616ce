// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	AdminToken     string
	// SessionIdleTTL ends sessions with no turns for this long. Zero disables the reaper.
	SessionIdleTTL  time.Duration
	RateLimit       RateLimitConfig
	Store           StoreConfig
	Retrieval       RetrievalConfig
	Completion      CompletionConfig
	Greetings       GreetingConfig
	ConversationLog ConversationLogConfig
}

// RateLimitConfig bounds player requests per window.
type RateLimitConfig struct {
	Requests           int
	Window             time.Duration
	MaxRequestBodySize int64
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend string // "sqlite" or "rest"
	DBPath  string
	RESTURL string
	RESTKey string
	Timeout time.Duration
}

// RetrievalConfig selects the embedding model and vector index.
type RetrievalConfig struct {
	Backend          string // "pinecone" or "weaviate"
	TopK             int
	EmbeddingModel   string
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	PineconeHost     string
	PineconeAPIKey   string
	PineconeNS       string
	WeaviateURL      string
	WeaviateAPIKey   string
	WeaviateClass    string
}

// CompletionConfig selects the completion backend and its retry policy.
type CompletionConfig struct {
	Backend     string // "openai" or "grpc"
	Model       string
	APIKey      string
	BaseURL     string
	GRPCAddress string
	MaxTokens   int
	MaxRetries  int
	BaseDelay   time.Duration
}

// GreetingConfig selects where recently used greetings are remembered.
type GreetingConfig struct {
	Backend   string // "memory" or "redis"
	RedisAddr string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}
	openAIKey := getEnv("OPENAI_API_KEY", "")

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		RateLimit: RateLimitConfig{
			Requests:           getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:             getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
			DBPath:  getEnv("DB_PATH", "./data/rallycoach.db"),
			RESTURL: getEnv("STORE_REST_URL", ""),
			RESTKey: getEnv("STORE_REST_API_KEY", ""),
			Timeout: getEnvDuration("STORE_TIMEOUT", 15*time.Second),
		},
		Retrieval: RetrievalConfig{
			Backend:          strings.ToLower(getEnv("VECTOR_BACKEND", "pinecone")),
			TopK:             getEnvInt("RETRIEVAL_TOP_K", 3),
			EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", openAIKey),
			EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", ""),
			PineconeHost:     getEnv("PINECONE_INDEX_HOST", ""),
			PineconeAPIKey:   getEnv("PINECONE_API_KEY", ""),
			PineconeNS:       getEnv("PINECONE_NAMESPACE", ""),
			WeaviateURL:      getEnv("WEAVIATE_URL", "http://localhost:8081"),
			WeaviateAPIKey:   getEnv("WEAVIATE_API_KEY", ""),
			WeaviateClass:    getEnv("WEAVIATE_CLASS", "CoachingKnowledge"),
		},
		Completion: CompletionConfig{
			Backend:     strings.ToLower(getEnv("COMPLETION_BACKEND", "openai")),
			Model:       getEnv("COMPLETION_MODEL", "gpt-4o-mini"),
			APIKey:      openAIKey,
			BaseURL:     getEnv("COMPLETION_BASE_URL", ""),
			GRPCAddress: getEnv("COMPLETION_GRPC_ADDR", "localhost:50051"),
			MaxTokens:   getEnvInt("COMPLETION_MAX_TOKENS", 300),
			MaxRetries:  getEnvInt("COMPLETION_MAX_RETRIES", 2),
			BaseDelay:   getEnvDuration("COMPLETION_RETRY_DELAY", time.Second),
		},
		Greetings: GreetingConfig{
			Backend:   strings.ToLower(getEnv("GREETING_HISTORY_BACKEND", "memory")),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // One check per setting reads better than a table here.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "rest":
		if c.Store.RESTURL == "" {
			return fmt.Errorf("STORE_REST_URL is required for the rest store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Retrieval.Backend {
	case "pinecone":
		if c.Retrieval.PineconeHost == "" {
			return fmt.Errorf("PINECONE_INDEX_HOST is required for the pinecone backend")
		}
	case "weaviate":
		if c.Retrieval.WeaviateURL == "" {
			return fmt.Errorf("WEAVIATE_URL is required for the weaviate backend")
		}
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.Retrieval.Backend)
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 10 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be between 1 and 10")
	}
	switch c.Completion.Backend {
	case "openai", "grpc":
	default:
		return fmt.Errorf("unknown COMPLETION_BACKEND %q", c.Completion.Backend)
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("COMPLETION_MAX_TOKENS must be > 0")
	}
	if c.Completion.MaxRetries < 0 {
		return fmt.Errorf("COMPLETION_MAX_RETRIES must be >= 0")
	}
	switch c.Greetings.Backend {
	case "memory":
	case "redis":
		if c.Greetings.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis greeting history")
		}
	default:
		return fmt.Errorf("unknown GREETING_HISTORY_BACKEND %q", c.Greetings.Backend)
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL cannot be negative")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
