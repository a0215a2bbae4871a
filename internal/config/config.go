package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup. Every external
// system is optional so a bare `go run` gives a playable server.
type Config struct {
	Port        int
	DatabaseURL string // empty disables persistence
	RedisAddr   string // empty disables presence flags
	KafkaBroker string // empty disables match events
	JWTSecret   string
}

// Load reads .env when present, then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] No .env file loaded: %v", err)
	}

	return Config{
		Port:        getenvInt("PORT", 8080),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		JWTSecret:   getenv("JWT_SECRET", "dev-secret-change-me"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
