// Package config loads daemon configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all daemon settings.
type Config struct {
	Host   string
	Port   string
	DBPath string

	// Fulfillment API
	FulfillURL     string
	FulfillTimeout time.Duration

	// Retry worker
	WorkerInterval    time.Duration
	WorkerConcurrency int
	BatchSize         int

	// Unknown-code notifier
	NotifyInterval  time.Duration
	SMTPServer      string
	SMTPPort        int
	EmailAddress    string
	EmailPassword   string
	EmailRecipients []string

	// Report archive (optional)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string

	// API auth tokens; open access when empty
	APITokens []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env file")
	}

	cfg := &Config{
		Host:   getEnv("HOST", "0.0.0.0"),
		Port:   getEnv("PORT", "9080"),
		DBPath: getEnv("DB_PATH", "orders.db"),

		FulfillURL:     getEnv("FULFILL_URL", ""),
		FulfillTimeout: getDuration("FULFILL_TIMEOUT", 30*time.Second),

		WorkerInterval:    getDuration("WORKER_INTERVAL", 15*time.Minute),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 4),
		BatchSize:         getInt("BATCH_SIZE", 50),

		NotifyInterval: getDuration("NOTIFY_INTERVAL", 5*time.Minute),
		SMTPServer:     getEnv("SMTP_SERVER", ""),
		SMTPPort:       getInt("SMTP_PORT", 587),
		EmailAddress:   getEnv("EMAIL_ADDRESS", ""),
		EmailPassword:  getEnv("EMAIL_PASSWORD", ""),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "ordersync-reports"),
	}

	if recipients := os.Getenv("EMAIL_RECIPIENTS"); recipients != "" {
		cfg.EmailRecipients = splitAndTrim(recipients)
	}
	if tokens := os.Getenv("API_TOKENS"); tokens != "" {
		cfg.APITokens = splitAndTrim(tokens)
	}

	return cfg
}

// NotifierEnabled reports whether enough SMTP settings are present to send
// unknown-code notifications.
func (c *Config) NotifierEnabled() bool {
	return c.SMTPServer != "" && c.EmailAddress != "" && len(c.EmailRecipients) > 0
}

// ArchiveEnabled reports whether report archiving to object storage is
// configured.
func (c *Config) ArchiveEnabled() bool {
	return c.MinioEndpoint != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": value}).
			Warn("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": value}).
			Warn("Invalid duration in environment, using default")
		return fallback
	}
	return d
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
