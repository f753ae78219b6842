// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full server configuration, populated from environment
// variables with sane defaults for local runs.
type Config struct {
	Port string

	// state backend; empty connection string selects the in-memory store
	DBDriver           string
	DBConnectionString string

	// scheduler tunables
	WorkDir           string
	MaxActive         int
	MaxPerOwner       int
	CancelGrace       time.Duration
	RetryBackoff      time.Duration
	Retention         time.Duration
	DefaultMaxRetries int

	S3    S3Config
	Drive DriveConfig
}

// S3Config holds the S3 uploader credentials. Configured reports whether
// anything was set; an unconfigured uploader stays unregistered.
type S3Config struct {
	Region      string
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Timeout     time.Duration
}

func (c S3Config) Configured() bool {
	return c.Region != "" || c.EndpointURL != "" || c.AccessKey != ""
}

// DriveConfig holds the Google Drive uploader OAuth credentials.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

func (c DriveConfig) Configured() bool {
	return c.ClientID != ""
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port:               envStr("PORT", "8000"),
		DBDriver:           envStr("DB_DRIVER", "postgres"),
		DBConnectionString: os.Getenv("DB_CONNECTION_STRING"),

		WorkDir:           envStr("WORK_DIR", "/tmp/mirrorhub"),
		MaxActive:         envInt("MAX_ACTIVE_TRANSFERS", 4),
		MaxPerOwner:       envInt("MAX_PER_OWNER", 2),
		CancelGrace:       envSeconds("CANCEL_GRACE_SECONDS", 30),
		RetryBackoff:      envSeconds("RETRY_BACKOFF_SECONDS", 5),
		Retention:         time.Duration(envInt("RETENTION_HOURS", 24)) * time.Hour,
		DefaultMaxRetries: envInt("DEFAULT_MAX_RETRIES", 3),

		S3: S3Config{
			Region:      os.Getenv("S3_REGION"),
			EndpointURL: os.Getenv("S3_ENDPOINT_URL"),
			AccessKey:   os.Getenv("S3_ACCESS_KEY"),
			SecretKey:   os.Getenv("S3_SECRET_KEY"),
			Timeout:     envSeconds("S3_TIMEOUT_SECONDS", 30),
		},
		Drive: DriveConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			AccessToken:  os.Getenv("GOOGLE_ACCESS_TOKEN"),
			RefreshToken: os.Getenv("GOOGLE_REFRESH_TOKEN"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
