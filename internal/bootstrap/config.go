package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string

	ClusterCount    int
	KMeansPasses    int
	TopK            int
	PrefilterCutoff int

	ConfidentThreshold float64
	AmbiguityMargin    float64
	NoMatchFloor       float64

	CaptureInterval       time.Duration
	ExtractTimeout        time.Duration
	MatchTimeout          time.Duration
	BankRefresh           time.Duration
	FrameTTL              time.Duration
	MaxConsecutiveNoMatch int

	BankRetryAttempts  int
	BankRetryBaseDelay time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),

		ClusterCount:    getEnvInt("CLUSTER_COUNT", 6),
		KMeansPasses:    getEnvInt("KMEANS_PASSES", 10),
		TopK:            getEnvInt("MATCH_TOP_K", 5),
		PrefilterCutoff: getEnvInt("PREFILTER_CUTOFF", 512),

		ConfidentThreshold: getEnvFloat("CONFIDENT_THRESHOLD", 0.75),
		AmbiguityMargin:    getEnvFloat("AMBIGUITY_MARGIN", 0.05),
		NoMatchFloor:       getEnvFloat("NO_MATCH_FLOOR", 0.40),

		CaptureInterval:       getEnvDuration("CAPTURE_INTERVAL", 2*time.Second),
		ExtractTimeout:        getEnvDuration("EXTRACT_TIMEOUT", 2*time.Second),
		MatchTimeout:          getEnvDuration("MATCH_TIMEOUT", 2*time.Second),
		BankRefresh:           getEnvDuration("BANK_REFRESH", 30*time.Second),
		FrameTTL:              getEnvDuration("FRAME_TTL", 5*time.Minute),
		MaxConsecutiveNoMatch: getEnvInt("MAX_CONSECUTIVE_NO_MATCH", 5),

		BankRetryAttempts:  getEnvInt("BANK_RETRY_ATTEMPTS", 3),
		BankRetryBaseDelay: getEnvDuration("BANK_RETRY_BASE_DELAY", 100*time.Millisecond),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
