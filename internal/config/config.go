// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable shared by the api, worker and mcp-server binaries.
type Config struct {
	// Qdrant
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool

	// Redis / asynq
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// Embeddings
	EmbeddingProvider string
	EmbeddingModel    string
	OpenAIAPIKey      string
	GeminiAPIKey      string

	// HTTP
	Port        string
	UploadDir   string
	MaxUploadMB int
	CORSOrigins []string

	// Chunking and upsert
	ChunkSize       int
	ChunkOverlap    int
	UpsertBatchSize int

	// Jobs
	WorkerConcurrency int
	JobAttempts       int
	JobBackoff        time.Duration
	JobDelay          time.Duration
	JobTimeout        time.Duration
	JobRetention      time.Duration

	// File readiness
	ReadyMaxAttempts int
	ReadySettle      time.Duration
	ReadyRetry       time.Duration

	// MCPAuthTokens maps bearer tokens to the user they act for.
	MCPAuthTokens map[string]string

	ReconcileGrace time.Duration
	LogMode        string
}

// Load reads a .env file if present (local development) and then the process environment.
func Load() *Config {
	// Missing .env is expected in production.
	_ = godotenv.Load()

	return &Config{
		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS: getEnvBool("QDRANT_USE_TLS", false),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		QueueName:     getEnv("QUEUE_NAME", "file-upload-queue"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "pdfchat"),

		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", "openai")),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),

		Port:        getEnv("PORT", "8080"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 50),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		ChunkSize:       getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 200),
		UpsertBatchSize: getEnvInt("UPSERT_BATCH_SIZE", 40),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		JobAttempts:       getEnvInt("JOB_ATTEMPTS", 3),
		JobBackoff:        getEnvMillis("JOB_BACKOFF_MS", 2000*time.Millisecond),
		JobDelay:          getEnvMillis("JOB_DELAY_MS", 500*time.Millisecond),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		JobRetention:      getEnvDuration("JOB_RETENTION", 24*time.Hour),

		ReadyMaxAttempts: getEnvInt("READY_MAX_ATTEMPTS", 5),
		ReadySettle:      getEnvMillis("READY_SETTLE_MS", 200*time.Millisecond),
		ReadyRetry:       getEnvMillis("READY_RETRY_MS", time.Second),

		MCPAuthTokens: splitPairs(getEnv("MCP_AUTH_TOKENS", "")),

		ReconcileGrace: getEnvDuration("RECONCILE_GRACE", time.Hour),
		LogMode:        getEnv("LOG_MODE", "dev"),
	}
}

// Validate reports settings that would make ingestion fail on every job.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.UpsertBatchSize <= 0 {
		return fmt.Errorf("UPSERT_BATCH_SIZE must be positive, got %d", c.UpsertBatchSize)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.JobAttempts < 1 {
		return fmt.Errorf("JOB_ATTEMPTS must be at least 1, got %d", c.JobAttempts)
	}
	if c.ReadyMaxAttempts < 1 {
		return fmt.Errorf("READY_MAX_ATTEMPTS must be at least 1, got %d", c.ReadyMaxAttempts)
	}
	switch c.EmbeddingProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q (want openai or gemini)", c.EmbeddingProvider)
	}
	return nil
}

// MaxUploadBytes is the multipart memory limit for the upload handler.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvMillis reads an integer number of milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

// getEnvDuration reads a Go duration string such as "90s" or "24h".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitPairs parses "key:value,key:value". Entries without both halves are skipped.
func splitPairs(v string) map[string]string {
	out := map[string]string{}
	for _, part := range splitList(v) {
		key, value, ok := strings.Cut(part, ":")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
