package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "RELAYTIMELINE_"

type Config struct {
	Addr string

	StateBackendDSN string
	BackendProfile  string
	DataDir         string
	PostgresDSN     string

	AdaptersFile string

	JWTSecret       string
	MaxBodyBytes    int64
	RateLimitMax    int
	RateLimitWindow time.Duration

	Redis RedisConfig

	LogLevel string
	LogJSON  bool

	ShutdownTimeout time.Duration

	// Warnings collects env values that could not be parsed and fell back to
	// their defaults. The logger does not exist yet when Load runs.
	Warnings []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
	Buffer   int
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// Load reads the RELAYTIMELINE_* environment.
func Load() Config {
	l := &loader{}
	cfg := Config{
		Addr:            l.stringEnv("ADDR", ":8080"),
		StateBackendDSN: l.stringEnv("STATE_BACKEND_DSN", ""),
		BackendProfile:  strings.ToLower(l.stringEnv("BACKEND_PROFILE", "")),
		DataDir:         l.stringEnv("DATA_DIR", ".relaytimeline"),
		PostgresDSN:     l.stringEnv("POSTGRES_DSN", ""),
		AdaptersFile:    l.stringEnv("ADAPTERS_FILE", ""),
		JWTSecret:       l.stringEnv("JWT_SECRET", "dev-secret"),
		MaxBodyBytes:    l.int64Env("MAX_BODY_BYTES", 1<<20),
		RateLimitMax:    l.intEnv("RATE_LIMIT_MAX", 0),
		RateLimitWindow: l.durationEnv("RATE_LIMIT_WINDOW", time.Minute),
		Redis: RedisConfig{
			Addr:     l.stringEnv("REDIS_ADDR", ""),
			Password: l.stringEnv("REDIS_PASSWORD", ""),
			DB:       l.intEnv("REDIS_DB", 0),
			Stream:   l.stringEnv("REDIS_STREAM", "relaytimeline:raw"),
			MaxLen:   l.int64Env("REDIS_MAXLEN", 10000),
			Buffer:   l.intEnv("REDIS_BUFFER", 1024),
		},
		LogLevel:        l.stringEnv("LOG_LEVEL", "info"),
		LogJSON:         l.boolEnv("LOG_JSON", true),
		ShutdownTimeout: l.durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	cfg.Warnings = l.warnings
	return cfg
}

type loader struct {
	warnings []string
}

func (l *loader) raw(name string) (string, string) {
	key := envPrefix + name
	return key, strings.TrimSpace(os.Getenv(key))
}

func (l *loader) invalid(key, raw string, fallback any) {
	l.warnings = append(l.warnings, fmt.Sprintf("invalid %s=%q, using fallback %v", key, raw, fallback))
}

func (l *loader) stringEnv(name, fallback string) string {
	_, raw := l.raw(name)
	if raw == "" {
		return fallback
	}
	return raw
}

func (l *loader) intEnv(name string, fallback int) int {
	key, raw := l.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		l.invalid(key, raw, fallback)
		return fallback
	}
	return value
}

func (l *loader) int64Env(name string, fallback int64) int64 {
	key, raw := l.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.invalid(key, raw, fallback)
		return fallback
	}
	return value
}

func (l *loader) durationEnv(name string, fallback time.Duration) time.Duration {
	key, raw := l.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		l.invalid(key, raw, fallback.String())
		return fallback
	}
	return value
}

func (l *loader) boolEnv(name string, fallback bool) bool {
	key, raw := l.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		l.invalid(key, raw, fallback)
		return fallback
	}
	return value
}
