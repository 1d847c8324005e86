package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries everything resolved at process start. Nothing reads the
// environment after Load returns.
type Config struct {
	ListenAddr string
	DBPath     string
	RedisURL   string

	DefaultProvider string
	OpenAIKey       string
	OpenAIModel     string
	OpenAIBaseURL   string
	GeminiKey       string
	GeminiModel     string

	// AuthTokens maps bearer token -> user id. Stands in for the external
	// credential service.
	AuthTokens map[string]string
}

func Load() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8100"),
		DBPath:          envOr("DB_PATH", "farmerchat.db"),
		RedisURL:        envOr("REDIS_URL", "redis://localhost:6379"),
		DefaultProvider: envOr("DEFAULT_PROVIDER", "openai"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		AuthTokens:      parseTokens(os.Getenv("AUTH_TOKENS")),
	}

	if cfg.OpenAIKey == "" && cfg.GeminiKey == "" {
		return nil, fmt.Errorf("no provider credentials configured: set OPENAI_API_KEY or GEMINI_API_KEY")
	}
	return cfg, nil
}

// parseTokens parses "token1:user1,token2:user2".
func parseTokens(s string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 && parts[0] != "" {
			tokens[parts[0]] = parts[1]
		}
	}
	return tokens
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
