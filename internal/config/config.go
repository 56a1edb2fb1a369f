// Package config loads supportline settings from SUPPORTLINE_* environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/omochice/supportline/internal/connection"
)

type Transport string

const (
	TransportWebSocket Transport = "ws"
	TransportSSE       Transport = "sse"
)

type Config struct {
	// Relay server
	Addr      string
	JWTSecret string

	// Client endpoint
	URL            string
	Transport      Transport
	UserID         string
	ConversationID string
	Token          string

	LogLevel  string
	LogFormat string

	// Manager options; zero values fall back to the connection defaults.
	Connection connection.Config
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load reads all env vars and builds the config.
func Load() *Config {
	transport := TransportWebSocket
	if getEnv("SUPPORTLINE_TRANSPORT", "ws") == "sse" {
		transport = TransportSSE
	}

	return &Config{
		Addr:      getEnv("SUPPORTLINE_ADDR", ":8080"),
		JWTSecret: getEnv("SUPPORTLINE_JWT_SECRET", ""),

		URL:            getEnv("SUPPORTLINE_URL", "ws://localhost:8080/ws/user"),
		Transport:      transport,
		UserID:         getEnv("SUPPORTLINE_USER_ID", ""),
		ConversationID: getEnv("SUPPORTLINE_CONVERSATION_ID", "default"),
		Token:          getEnv("SUPPORTLINE_TOKEN", ""),

		LogLevel:  getEnv("SUPPORTLINE_LOG_LEVEL", "info"),
		LogFormat: getEnv("SUPPORTLINE_LOG_FORMAT", "text"),

		Connection: connection.Config{
			HeartbeatInterval: getDurationEnv("SUPPORTLINE_HEARTBEAT_INTERVAL", connection.DefaultHeartbeatInterval),
			HeartbeatTimeout:  getDurationEnv("SUPPORTLINE_HEARTBEAT_TIMEOUT", connection.DefaultHeartbeatTimeout),
			BaseDelay:         getDurationEnv("SUPPORTLINE_BACKOFF_BASE", connection.DefaultBaseDelay),
			MaxDelay:          getDurationEnv("SUPPORTLINE_BACKOFF_MAX", connection.DefaultMaxDelay),
			MaxJitter:         getDurationEnv("SUPPORTLINE_BACKOFF_JITTER", connection.DefaultMaxJitter),
			MaxAttempts:       getIntEnv("SUPPORTLINE_MAX_ATTEMPTS", connection.DefaultMaxAttempts),
			QueueCapacity:     getIntEnv("SUPPORTLINE_QUEUE_CAPACITY", connection.DefaultQueueCapacity),
			DialTimeout:       getDurationEnv("SUPPORTLINE_DIAL_TIMEOUT", connection.DefaultDialTimeout),
			WriteTimeout:      getDurationEnv("SUPPORTLINE_WRITE_TIMEOUT", connection.DefaultWriteTimeout),
		},
	}
}
