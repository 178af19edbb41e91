package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

type Config struct {
	Port            string
	ShutdownTimeout time.Duration
	AllowAnyOrigin  bool
	LogLevel        string
	LogFile         string

	Provider        Provider
	OpenAIKey       string
	OpenAIBaseURL   string
	RealtimeModel   string
	CredentialModel string
	GeminiKey       string
	GeminiModel     string
	GeminiBaseURL   string
	UpstreamTimeout time.Duration
	// SessionRetention is how long session summaries stay queryable.
	SessionRetention time.Duration
}

// Load reads the environment. A missing upstream secret is not an error here:
// the endpoints report it per request.
func Load() (Config, error) {
	cfg := Config{
		Port:            getenv("PORT", "8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFile:         strings.TrimSpace(os.Getenv("LOG_FILE")),
		Provider:        Provider(strings.ToLower(getenv("UPSTREAM_PROVIDER", string(ProviderOpenAI)))),
		OpenAIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:   strings.TrimRight(getenv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		RealtimeModel:   getenv("OPENAI_REALTIME_MODEL", "gpt-realtime"),
		CredentialModel: getenv("OPENAI_CREDENTIAL_MODEL", "gpt-realtime"),
		GeminiKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:     getenv("GEMINI_LIVE_MODEL", "gemini-live-2.5-flash-preview"),
		GeminiBaseURL:   strings.TrimRight(getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.UpstreamTimeout, err = durationFromEnv("UPSTREAM_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SessionRetention, err = durationFromEnv("SESSION_RETENTION", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}

	switch cfg.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return Config{}, fmt.Errorf("UPSTREAM_PROVIDER must be openai or gemini, got %q", cfg.Provider)
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if cfg.SessionRetention <= 0 {
		return Config{}, fmt.Errorf("SESSION_RETENTION must be positive")
	}
	return cfg, nil
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func durationFromEnv(k string, d time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return out, nil
}

func boolFromEnv(k string, d bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", k, err)
	}
	return out, nil
}
