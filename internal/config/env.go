package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	SslCertPath  string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	Port         string
	JWTSecret    string

	LLMRequestsPerSecond float64

	OCRProvider  string
	OCRLanguages []string

	ChunkCache     string
	ChunkCacheSize int
	ChunkCacheTTL  time.Duration
	RedisAddr      string
	RedisDB        int

	IngestWorkers     int
	IngestTimeout     time.Duration
	ChunkMinTokens    int
	ChunkMaxTokens    int
	ChunkTargetTokens int
	EmbedBatchSize    int
	WordSegmentation  string
	MaxOCRImages      int

	AnswerCostPer1KTokens float64

	LogLevel    string
	LogEncoding string
	LogFile     string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "studykb-docs"),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		LLMRequestsPerSecond: getEnvFloat("LLM_REQUESTS_PER_SECOND", 2),

		OCRProvider:  getEnv("OCR_PROVIDER", "tesseract"),
		OCRLanguages: strings.Split(getEnv("OCR_LANGUAGES", "eng+chi_sim"), "+"),

		ChunkCache:     getEnv("CHUNK_CACHE", "lru"),
		ChunkCacheSize: getEnvInt("CHUNK_CACHE_SIZE", 1024),
		ChunkCacheTTL:  getEnvDuration("CHUNK_CACHE_TTL", 24*time.Hour),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:        getEnvInt("REDIS_DB", 0),

		IngestWorkers:     getEnvInt("INGEST_WORKERS", 3),
		IngestTimeout:     getEnvDuration("INGEST_TIMEOUT", 10*time.Minute),
		ChunkMinTokens:    getEnvInt("CHUNK_MIN_TOKENS", 300),
		ChunkMaxTokens:    getEnvInt("CHUNK_MAX_TOKENS", 600),
		ChunkTargetTokens: getEnvInt("CHUNK_TARGET_TOKENS", 450),
		EmbedBatchSize:    getEnvInt("EMBED_BATCH_SIZE", 100),
		WordSegmentation:  getEnv("WORD_SEGMENTATION", "line"),
		MaxOCRImages:      getEnvInt("MAX_OCR_IMAGES", 20),

		AnswerCostPer1KTokens: getEnvFloat("ANSWER_COST_PER_1K_TOKENS", 0.0005),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),
		LogFile:     getEnv("LOG_FILE", ""),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
