// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all server configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	RedisAddr   string // optional: "" = in-memory sequence cache
	OpenAIKey   string // optional: "" = template engine, no LLM calls
	OpenAIModel string
	App         AppDisplayConfig
}

// AppDisplayConfig is the display configuration served to clients at
// session-creation time.
type AppDisplayConfig struct {
	Title            string
	Subtitle         string
	InputPlaceholder string
	WelcomeMessage   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/cadence.db"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		OpenAIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel: getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		App: AppDisplayConfig{
			Title:            getEnv("APP_TITLE", "Cadence"),
			Subtitle:         getEnv("APP_SUBTITLE", "AI-assisted outreach sequences"),
			InputPlaceholder: getEnv("APP_INPUT_PLACEHOLDER", "Describe the role you are hiring for..."),
			WelcomeMessage:   getEnv("APP_WELCOME_MESSAGE", "Hi! Tell me who you want to reach and I will draft an outreach sequence."),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OpenAIModel == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
