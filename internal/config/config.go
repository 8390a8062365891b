package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt seeds the first message of every new conversation until
// an operator replaces it through the system prompt API.
const DefaultSystemPrompt = "You are an efficient shopping assistant for an online store. " +
	"Help the customer with a single focused follow-up question when needed. " +
	"Use the shop tools to look up products and to manage the customer's cart; " +
	"never invent products, prices or cart contents."

// Config contains all runtime settings for the shopping assistant service.
type Config struct {
	BindAddr             string
	ShutdownTimeout      time.Duration
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	MetricsNamespace     string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	SystemPrompt  string
	MaxToolRounds int

	LLMProvider   string
	LLMMaxRetries int

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	ArkAPIKey  string
	ArkModel   string
	ArkBaseURL string

	CatalogFeedURL      string
	CatalogDatabaseURL  string
	CatalogFetchTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "clerk"),
		AllowAnyOrigin:       false,
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
		SystemPrompt:         envOrDefault("CHAT_SYSTEM_PROMPT", DefaultSystemPrompt),
		MaxToolRounds:        5,
		LLMProvider:          envOrDefault("LLM_PROVIDER", "auto"),
		LLMMaxRetries:        2,
		OpenAIAPIKey:         stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:          envOrDefault("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:        stringsTrimSpace("OPENAI_BASE_URL"),
		ArkAPIKey:            stringsTrimSpace("ARK_API_KEY"),
		ArkModel:             stringsTrimSpace("ARK_MODEL"),
		ArkBaseURL:           stringsTrimSpace("ARK_BASE_URL"),
		CatalogFeedURL:       envOrDefault("CATALOG_FEED_URL", "https://dummyjson.com/products"),
		CatalogDatabaseURL:   stringsTrimSpace("CATALOG_DATABASE_URL"),
		CatalogFetchTimeout:  10 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		SessionTTL:           30 * time.Minute,
		SessionSweepInterval: 30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("APP_SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogFetchTimeout, err = durationFromEnv("CATALOG_FETCH_TIMEOUT", cfg.CatalogFetchTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxToolRounds, err = intFromEnv("CHAT_MAX_TOOL_ROUNDS", cfg.MaxToolRounds)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxRetries, err = intFromEnv("LLM_MAX_RETRIES", cfg.LLMMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that hold regardless of where the values came
// from. The CLI calls it again after applying flag overrides.
func (c Config) Validate() error {
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("APP_SESSION_TTL must be at least 1m")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("APP_SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.CatalogFetchTimeout <= 0 {
		return fmt.Errorf("CATALOG_FETCH_TIMEOUT must be positive")
	}
	if c.MaxToolRounds < 1 || c.MaxToolRounds > 20 {
		return fmt.Errorf("CHAT_MAX_TOOL_ROUNDS must be between 1 and 20")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("CHAT_SYSTEM_PROMPT must not be blank")
	}
	switch strings.ToLower(strings.TrimSpace(c.LLMProvider)) {
	case "auto", "openai", "ark", "mock":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|openai|ark|mock)", c.LLMProvider)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q (expected json|text)", c.LogFormat)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
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
