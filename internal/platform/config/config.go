package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the registry service.
type Server struct {
	Addr           string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	EventTopic     string
	AuthSigningKey string
	// MirrorBuffer bounds the event channel feeding the mirror worker.
	MirrorBuffer int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:         getEnv("CERTLEDGER_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		EventTopic:   getEnv("REGISTRY_EVENT_TOPIC", "certledger.registry.events"),
		MirrorBuffer: getEnvInt("MIRROR_BUFFER", 1024),
		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
	}

	cfg.AuthSigningKey = os.Getenv("AUTH_SIGNING_KEY")
	if cfg.AuthSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.AuthSigningKey = "dev-secret-key-change-in-production"
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
