// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	APIBaseURL  string
	ChatBaseURL string
	DBPath      string
	Port        string
	LogLevel    slog.Level
	Chat        ChatConfig
	Reach       ReachabilityConfig
}

// ChatConfig controls the realtime reconnect policy.
type ChatConfig struct {
	BackoffUnit time.Duration
	MaxAttempts int
}

// ReachabilityConfig controls the network watcher.
type ReachabilityConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiBase := strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		APIBaseURL:  apiBase,
		ChatBaseURL: strings.TrimRight(getEnv("CHAT_BASE_URL", deriveChatURL(apiBase)), "/"),
		DBPath:      getEnv("SESSION_DB_PATH", "./data/session.db"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Chat: ChatConfig{
			BackoffUnit: getEnvDuration("CHAT_BACKOFF_UNIT", 2*time.Second),
			MaxAttempts: getEnvInt("CHAT_MAX_ATTEMPTS", 5),
		},
		Reach: ReachabilityConfig{
			Interval: getEnvDuration("REACHABILITY_INTERVAL", 5*time.Second),
			Timeout:  getEnvDuration("REACHABILITY_TIMEOUT", 2*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}
	u, err := url.ParseRequestURI(c.ChatBaseURL)
	if err != nil {
		return fmt.Errorf("CHAT_BASE_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("CHAT_BASE_URL must use ws or wss, got %q", u.Scheme)
	}
	if c.DBPath == "" {
		return fmt.Errorf("SESSION_DB_PATH cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Chat.BackoffUnit <= 0 {
		return fmt.Errorf("CHAT_BACKOFF_UNIT must be > 0")
	}
	if c.Chat.MaxAttempts <= 0 {
		return fmt.Errorf("CHAT_MAX_ATTEMPTS must be > 0")
	}
	if c.Reach.Interval <= 0 || c.Reach.Timeout <= 0 {
		return fmt.Errorf("REACHABILITY_INTERVAL and REACHABILITY_TIMEOUT must be > 0")
	}
	return nil
}

// deriveChatURL maps http(s)://host to ws(s)://host/ws/chat.
func deriveChatURL(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://") + "/ws/chat"
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://") + "/ws/chat"
	default:
		return apiBase + "/ws/chat"
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
