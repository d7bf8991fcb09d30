package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime settings for the auction service.
type Config struct {
	Env               string
	HTTPPort          string
	DatabasePath      string
	JWTSecret         string
	SchedulerInterval time.Duration
	LookbackWindow    time.Duration
	GatewayTimeout    time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	NATSURL           string
}

// Load reads configuration from a .env file when present, falling back to
// the process environment.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Debug().Err(err).Msg("no .env file found, using environment variables")
	}

	return &Config{
		Env:               getEnv("ENV", "development"),
		HTTPPort:          getEnv("PORT", "8080"),
		DatabasePath:      getEnv("DATABASE_PATH", "auction.db"),
		JWTSecret:         getEnv("JWT_SECRET", "auction-secret-key"),
		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 5*time.Minute),
		LookbackWindow:    getDuration("LOOKBACK_WINDOW", time.Hour),
		GatewayTimeout:    getDuration("GATEWAY_TIMEOUT", 5*time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getInt("REDIS_DB", 0),
		NATSURL:           getEnv("NATS_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer in environment, using default")
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration in environment, using default")
		return fallback
	}
	return parsed
}
