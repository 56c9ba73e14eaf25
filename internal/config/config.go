// Package config reads the service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const ServiceName = "watchparty-service"

type Config struct {
	Port     string
	GRPCPort string

	DBDSN    string
	RedisURL string

	AMQPURL      string
	AMQPExchange string

	SessionAPIURL     string
	SessionAPITimeout time.Duration

	TicketSecret string
	TicketTTL    time.Duration

	OTLPEndpoint string
	Environment  string
	LogLevel     string
	LogFormat    string

	ShutdownTimeout time.Duration
	StoreMaxRetries int
	HistoryLimit    int
	SeedSampleRooms bool
	DebugRoutes     bool
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) Config {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Config{
		Port:              getEnv("PORT", "8083"),
		GRPCPort:          getEnv("GRPC_PORT", "9083"),
		DBDSN:             getEnv("DB_DSN", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		AMQPURL:           getEnv("AMQP_URL", ""),
		AMQPExchange:      getEnv("AMQP_EXCHANGE", "watchparty.events"),
		SessionAPIURL:     strings.TrimRight(getEnv("SESSION_API_URL", "https://api.streamhive.icu"), "/"),
		SessionAPITimeout: getDuration("SESSION_API_TIMEOUT", 10*time.Second),
		TicketSecret:      getEnv("TICKET_SECRET", ""),
		TicketTTL:         getDuration("TICKET_TTL", time.Minute),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Environment:       getEnv("SERVICE_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		StoreMaxRetries:   getInt("STORE_MAX_RETRIES", 16),
		HistoryLimit:      getInt("HISTORY_LIMIT", 0),
		SeedSampleRooms:   getBool("SEED_SAMPLE_ROOMS", false),
		DebugRoutes:       getBool("DEBUG_ROUTES", false),
	}
	if cfg.TicketSecret == "" {
		log.Warn().Msg("TICKET_SECRET not set, using an insecure development secret")
		cfg.TicketSecret = "watchparty-dev-secret"
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warn().Str("key", key).Str("value", val).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Str("key", key).Str("value", val).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
