package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the dialogue engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DataDir string

	HistoryDriver string
	DatabaseURL   string
	SQLitePath    string

	RedisAddr     string
	RedisPassword string
	ConvoTTL      time.Duration

	HistoryWindow   int
	HistoryLimitCap int
	MaxContentLen   int

	GeneratorMode    string
	GeneratorHTTPURL string
	GeneratorTimeout time.Duration

	SessionInactivityTimeout time.Duration
}

// Load reads environment variables and applies safe defaults. A .env file in
// the working directory is folded into the environment first, without
// overriding variables that are already set.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "echosoul"),
		DataDir:                  envOrDefault("DATA_DIR", "./data"),
		HistoryDriver:            envOrDefault("HISTORY_DRIVER", "auto"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		SQLitePath:               trimmedEnv("SQLITE_PATH"),
		RedisAddr:                trimmedEnv("REDIS_ADDR"),
		RedisPassword:            trimmedEnv("REDIS_PASSWORD"),
		GeneratorMode:            envOrDefault("GENERATOR_MODE", "auto"),
		GeneratorHTTPURL:         trimmedEnv("GENERATOR_HTTP_URL"),
		HistoryWindow:            20,
		HistoryLimitCap:          200,
		MaxContentLen:            10000,
		ShutdownTimeout:          15 * time.Second,
		GeneratorTimeout:         30 * time.Second,
		ConvoTTL:                 720 * time.Hour,
		SessionInactivityTimeout: 30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeneratorTimeout, err = durationFromEnv("GENERATOR_TIMEOUT", cfg.GeneratorTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConvoTTL, err = durationFromEnv("CONVO_TTL", cfg.ConvoTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimitCap, err = intFromEnv("HISTORY_LIMIT_CAP", cfg.HistoryLimitCap)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.HistoryDriver)) {
	case "auto", "memory", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid HISTORY_DRIVER: %q (expected auto|memory|sqlite|postgres)", cfg.HistoryDriver)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GeneratorMode)) {
	case "auto", "mock", "http":
	default:
		return Config{}, fmt.Errorf("invalid GENERATOR_MODE: %q (expected auto|mock|http)", cfg.GeneratorMode)
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("HISTORY_WINDOW must be positive")
	}
	if cfg.HistoryLimitCap < cfg.HistoryWindow {
		return Config{}, fmt.Errorf("HISTORY_LIMIT_CAP must be at least HISTORY_WINDOW")
	}
	if cfg.GeneratorTimeout < time.Second {
		return Config{}, fmt.Errorf("GENERATOR_TIMEOUT must be at least 1s")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
