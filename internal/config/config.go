package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultFrontendOrigin       = "http://localhost:3000"
	defaultTrustedUserHeader    = "X-User-ID"
	defaultOpenRouterBaseURL    = "https://openrouter.ai/api/v1"
	defaultTitleModel           = "google/gemini-2.5-flash-lite"
	defaultBraveBaseURL         = "https://api.search.brave.com/res/v1"
	defaultWebSearchIntervalMs  = 1100
	defaultWebSearchResultCount = 5
	defaultChatTimeoutSeconds   = 300
	defaultStreamRetentionSecs  = 60
	defaultLogLevel             = "info"
	logFormatConsole            = "console"
	logFormatJSON               = "json"
	developmentEnvironment      = "development"
)

type Config struct {
	Port                 string
	Environment          string
	FrontendOrigin       string
	AllowedOrigins       []string
	AuthRequired         bool
	TrustedUserHeader    string
	DatabaseURL          string
	TursoAuthToken       string
	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterTitleModel string
	BraveAPIKey          string
	BraveBaseURL         string
	WebSearchMinInterval time.Duration
	WebSearchResultCount int
	ChatTimeout          time.Duration
	StreamRetention      time.Duration
	LogLevel             string
	LogFormat            string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) WebSearchEnabled() bool {
	return c.BraveAPIKey != ""
}

func Load() (Config, error) {
	cfg := Config{
		Port:                 envOrDefault("PORT", defaultPort),
		Environment:          envOrDefault("APP_ENV", developmentEnvironment),
		FrontendOrigin:       envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		AuthRequired:         boolOrDefault("AUTH_REQUIRED", true),
		TrustedUserHeader:    envOrDefault("TRUSTED_USER_HEADER", defaultTrustedUserHeader),
		DatabaseURL:          envOrDefault("DATABASE_URL", strings.TrimSpace(os.Getenv("TURSO_DATABASE_URL"))),
		TursoAuthToken:       strings.TrimSpace(os.Getenv("TURSO_AUTH_TOKEN")),
		OpenRouterAPIKey:     strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:    envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenRouterTitleModel: envOrDefault("OPENROUTER_TITLE_MODEL", defaultTitleModel),
		BraveAPIKey:          strings.TrimSpace(os.Getenv("BRAVE_API_KEY")),
		BraveBaseURL:         envOrDefault("BRAVE_BASE_URL", defaultBraveBaseURL),
		WebSearchResultCount: intOrDefault("WEB_SEARCH_RESULT_COUNT", defaultWebSearchResultCount),
		LogLevel:             strings.ToLower(envOrDefault("LOG_LEVEL", defaultLogLevel)),
	}

	cfg.WebSearchMinInterval = time.Duration(intOrDefault("WEB_SEARCH_MIN_INTERVAL_MS", defaultWebSearchIntervalMs)) * time.Millisecond
	if cfg.WebSearchMinInterval < 0 {
		return Config{}, errors.New("WEB_SEARCH_MIN_INTERVAL_MS must be >= 0")
	}
	if cfg.WebSearchResultCount <= 0 {
		return Config{}, errors.New("WEB_SEARCH_RESULT_COUNT must be > 0")
	}

	cfg.ChatTimeout = time.Duration(intOrDefault("CHAT_TIMEOUT_SECONDS", defaultChatTimeoutSeconds)) * time.Second
	if cfg.ChatTimeout <= 0 {
		return Config{}, errors.New("CHAT_TIMEOUT_SECONDS must be > 0")
	}

	cfg.StreamRetention = time.Duration(intOrDefault("STREAM_RETENTION_SECONDS", defaultStreamRetentionSecs)) * time.Second
	if cfg.StreamRetention < 0 {
		return Config{}, errors.New("STREAM_RETENTION_SECONDS must be >= 0")
	}

	defaultFormat := logFormatJSON
	if cfg.Environment == developmentEnvironment {
		defaultFormat = logFormatConsole
	}
	cfg.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", defaultFormat))
	if cfg.LogFormat != logFormatConsole && cfg.LogFormat != logFormatJSON {
		return Config{}, fmt.Errorf("LOG_FORMAT must be %q or %q", logFormatConsole, logFormatJSON)
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL (or TURSO_DATABASE_URL) is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}

	return cfg, nil
}

// ConsoleLogs reports whether logs should be human readable.
func (c Config) ConsoleLogs() bool {
	return c.LogFormat == logFormatConsole
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
