package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// PublicBaseURL is the URL prefix baked into content and upload links
	// handed to clients.
	PublicBaseURL string

	// SignalEndpoint is the websocket URL clients dial for presence.
	SignalEndpoint string

	// AccessTokenTTL bounds the lifetime of read/upload links.
	AccessTokenTTL time.Duration

	// EditSignalWindow is the coalescing window for outbound edit-intent
	// broadcasts. Per-keystroke emission without a window floods the room.
	EditSignalWindow time.Duration

	// Notification display durations, per kind.
	JoinLeaveNotifyTTL time.Duration
	EditingNotifyTTL   time.Duration

	// Reconnect backoff bounds for the client channel.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// Observability
	JaegerEndpoint string
	LogLevel       string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "mdlive"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		SignalEndpoint: getEnv("SIGNAL_ENDPOINT", "ws://localhost:8080/ws"),

		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),

		EditSignalWindow:   getEnvDuration("EDIT_SIGNAL_WINDOW", 500*time.Millisecond),
		JoinLeaveNotifyTTL: getEnvDuration("JOIN_LEAVE_NOTIFY_TTL", 3*time.Second),
		EditingNotifyTTL:   getEnvDuration("EDITING_NOTIFY_TTL", 5*time.Second),

		ReconnectMinDelay: getEnvDuration("RECONNECT_MIN_DELAY", 500*time.Millisecond),
		ReconnectMaxDelay: getEnvDuration("RECONNECT_MAX_DELAY", 30*time.Second),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if cfg.EditSignalWindow <= 0 {
		return nil, fmt.Errorf("EDIT_SIGNAL_WINDOW must be positive")
	}
	if cfg.ReconnectMinDelay > cfg.ReconnectMaxDelay {
		return nil, fmt.Errorf("RECONNECT_MIN_DELAY exceeds RECONNECT_MAX_DELAY")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
