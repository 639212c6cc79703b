// Package config provides environment configuration for the relay.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ListenAddr         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// WeChat platform settings
	WeChatToken       string
	WeChatAppID       string
	WeChatAppSecret   string
	WeChatAPIBase     string
	SubscribeGreeting string

	// Model API settings
	ModelAPIBase    string
	ModelAPIKey     string
	ModelName       string
	ModelAppID      string
	ModelTimeout    time.Duration
	ModelMaxRetries int

	// Conversation settings
	SystemPrompt          string
	ConversationMaxTokens int

	// Dedup settings
	DedupEnabled bool
	DedupMaxSize int

	// Networking
	ProxyURL string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 20*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 20*time.Second),

		// WeChat
		WeChatToken:       getEnv("WECHAT_TOKEN", ""),
		WeChatAppID:       getEnv("WECHAT_APP_ID", ""),
		WeChatAppSecret:   getEnv("WECHAT_APP_SECRET", ""),
		WeChatAPIBase:     getEnv("WECHAT_API_BASE", "https://api.weixin.qq.com"),
		SubscribeGreeting: getEnv("SUBSCRIBE_GREETING", "感谢关注！"),

		// Model API
		ModelAPIBase:    getEnv("MODEL_API_BASE", ""),
		ModelAPIKey:     getEnv("MODEL_API_KEY", ""),
		ModelName:       getEnv("MODEL_NAME", "deepseek-r1"),
		ModelAppID:      getEnv("MODEL_APP_ID", ""),
		ModelTimeout:    getDurationEnv("MODEL_TIMEOUT", 60*time.Second),
		ModelMaxRetries: getIntEnv("MODEL_MAX_RETRIES", 2),

		// Conversation
		SystemPrompt:          getEnv("SYSTEM_PROMPT", ""),
		ConversationMaxTokens: getIntEnv("CONVERSATION_MAX_TOKENS", 1000),

		// Dedup
		DedupEnabled: getBoolEnv("DEDUP_ENABLED", true),
		DedupMaxSize: getIntEnv("DEDUP_MAX_SIZE", 1000),

		// Networking
		ProxyURL: getEnv("PROXY_URL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
