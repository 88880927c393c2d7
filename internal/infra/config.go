package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	Port      string
	JWTSecret string

	StoreBackend string
	DatabaseURL  string
	RedisURL     string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	MaxActiveStreams  int
	FlushInterval     time.Duration
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
	StreamTimeout     time.Duration
	StreamRetention   time.Duration
	CleanupInterval   time.Duration

	AMQPURL      string
	AMQPExchange string

	HTTPReadTimeout    time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		StoreBackend: getEnv("STREAM_STORE", "memory"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		MaxActiveStreams:  getEnvInt("STREAM_MAX_ACTIVE", 32),
		FlushInterval:     getEnvDur("STREAM_FLUSH_INTERVAL", 250*time.Millisecond),
		PollInterval:      getEnvDur("STREAM_POLL_INTERVAL", 500*time.Millisecond),
		KeepaliveInterval: getEnvDur("STREAM_KEEPALIVE_INTERVAL", 15*time.Second),
		StreamTimeout:     getEnvDur("STREAM_TIMEOUT", 10*time.Minute),
		StreamRetention:   getEnvDur("STREAM_RETENTION", 24*time.Hour),
		CleanupInterval:   getEnvDur("STREAM_CLEANUP_INTERVAL", time.Minute),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "or3.notifications"),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StoreBackend {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STREAM_STORE=postgres")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STREAM_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("unknown STREAM_STORE %q", cfg.StoreBackend)
	}

	// Deltas must land in the store at least as often as the gateway polls
	// for them, or attached viewers see stale content for whole poll cycles.
	if cfg.FlushInterval > cfg.PollInterval {
		return nil, fmt.Errorf("STREAM_FLUSH_INTERVAL (%s) must not exceed STREAM_POLL_INTERVAL (%s)", cfg.FlushInterval, cfg.PollInterval)
	}
	if cfg.FlushInterval <= 0 || cfg.PollInterval <= 0 || cfg.KeepaliveInterval <= 0 {
		return nil, fmt.Errorf("stream intervals must be positive")
	}
	if cfg.MaxActiveStreams <= 0 {
		return nil, fmt.Errorf("STREAM_MAX_ACTIVE must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDur(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
