package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogMode          string

	AllowAnyOrigin bool

	MaxConversation   int
	CacheMaxEntries   int
	CacheTTL          time.Duration
	TaskCheckInterval time.Duration

	ClassifierRulesPath string

	GeneratorURL    string
	SearchURL       string
	UpstreamTimeout time.Duration
	ChildVoiceID    string
	DefaultVoiceID  string
	FallbackText    string
	HistoryTurns    int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "buddy"),
		LogMode:             envOrDefault("APP_LOG_MODE", "development"),
		AllowAnyOrigin:      false,
		ShutdownTimeout:     15 * time.Second,
		MaxConversation:     100,
		CacheMaxEntries:     100,
		CacheTTL:            60 * time.Second,
		TaskCheckInterval:   5 * time.Minute,
		ClassifierRulesPath: stringsTrimSpace("CLASSIFIER_RULES_PATH"),
		// Empty upstream URLs keep the built-in mock collaborators.
		GeneratorURL:    stringsTrimSpace("GENERATOR_URL"),
		SearchURL:       stringsTrimSpace("SEARCH_URL"),
		UpstreamTimeout: 20 * time.Second,
		ChildVoiceID:    envOrDefault("VOICE_CHILD_ID", "child"),
		DefaultVoiceID:  envOrDefault("VOICE_DEFAULT_ID", "default"),
		FallbackText:    envOrDefault("COMPANION_FALLBACK_TEXT", "Sorry, I didn't hear that clearly. Can you say it again?"),
		HistoryTurns:    3,
		DatabaseURL:     stringsTrimSpace("DATABASE_URL"),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConversation, err = intFromEnv("MEMORY_MAX_CONVERSATION", cfg.MaxConversation)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxEntries, err = intFromEnv("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL, err = durationFromEnv("CACHE_TTL", cfg.CacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskCheckInterval, err = durationFromEnv("TASK_CHECK_INTERVAL", cfg.TaskCheckInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamTimeout, err = durationFromEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryTurns, err = intFromEnv("COMPANION_HISTORY_TURNS", cfg.HistoryTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxConversation <= 0 {
		return Config{}, fmt.Errorf("MEMORY_MAX_CONVERSATION must be positive")
	}
	if cfg.CacheMaxEntries <= 0 {
		return Config{}, fmt.Errorf("CACHE_MAX_ENTRIES must be positive")
	}
	if cfg.CacheTTL < time.Second {
		return Config{}, fmt.Errorf("CACHE_TTL must be at least 1s")
	}
	if cfg.TaskCheckInterval < 0 {
		return Config{}, fmt.Errorf("TASK_CHECK_INTERVAL must be >= 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if cfg.HistoryTurns <= 0 {
		return Config{}, fmt.Errorf("COMPANION_HISTORY_TURNS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := strings.ToLower(stringsTrimSpace(key))
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
