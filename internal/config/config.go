// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	SMTP    SMTPConfig
	HTTP    HTTPConfig
	Store   StoreConfig
	Blob    BlobConfig
	Logging LoggingConfig
}

// SMTPConfig holds the SMTP listener configuration.
type SMTPConfig struct {
	Addr            string `validate:"required"`
	Domain          string
	MaxMessageBytes int64  `validate:"gt=0"`
	Username        string
	Password        string
}

// HTTPConfig holds the HTTP listener configuration.
type HTTPConfig struct {
	Addr string `validate:"required"`
}

// StoreConfig selects the mail store. With an empty DatabaseURL the
// service runs fully in memory, which is the zero-setup dev mode.
type StoreConfig struct {
	DatabaseURL string
}

// BlobConfig holds the S3/MinIO settings for attachment payloads. Ignored
// in memory mode or when no credentials are set.
type BlobConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level     string
	Format    string
	Output    string
	AddSource bool
}

// Load reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SMTP: SMTPConfig{
			Addr:            getEnv("SMTP_ADDR", ":1025"),
			Domain:          getEnv("SMTP_DOMAIN", "mailsink"),
			MaxMessageBytes: getInt64Env("SMTP_MAX_MESSAGE_BYTES", 100<<20),
			Username:        getEnv("SMTP_USERNAME", ""),
			Password:        getEnv("SMTP_PASSWORD", ""),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8025"),
		},
		Store: StoreConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Blob: BlobConfig{
			Endpoint:        getEnv("BLOB_ENDPOINT", "localhost:9000"),
			Region:          getEnv("BLOB_REGION", "us-east-1"),
			Bucket:          getEnv("BLOB_BUCKET", "mailsink-attachments"),
			AccessKeyID:     getEnv("BLOB_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BLOB_SECRET_ACCESS_KEY", ""),
			UseSSL:          getBoolEnv("BLOB_USE_SSL", false),
		},
		Logging: LoggingConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			Output:    getEnv("LOG_OUTPUT", "stdout"),
			AddSource: getBoolEnv("LOG_ADD_SOURCE", false),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Persistent mail records with in-memory attachment payloads would
	// orphan on restart, so the blob store is only required alongside a
	// database.
	if cfg.Store.DatabaseURL != "" && cfg.Blob.AccessKeyID == "" {
		return nil, fmt.Errorf("invalid configuration: DATABASE_URL is set but BLOB_ACCESS_KEY_ID is empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt64Env(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
