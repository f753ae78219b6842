package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 4, cfg.MaxActive)
	assert.Equal(t, 2, cfg.MaxPerOwner)
	assert.Equal(t, 30*time.Second, cfg.CancelGrace)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, 3, cfg.DefaultMaxRetries)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_ACTIVE_TRANSFERS", "8")
	t.Setenv("CANCEL_GRACE_SECONDS", "10")
	t.Setenv("RETENTION_HOURS", "48")
	t.Setenv("S3_ENDPOINT_URL", "https://minio.local:9000")
	t.Setenv("GOOGLE_CLIENT_ID", "client-123")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 8, cfg.MaxActive)
	assert.Equal(t, 10*time.Second, cfg.CancelGrace)
	assert.Equal(t, 48*time.Hour, cfg.Retention)
	assert.True(t, cfg.S3.Configured())
	assert.True(t, cfg.Drive.Configured())
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("MAX_ACTIVE_TRANSFERS", "not-a-number")
	cfg := Load()
	assert.Equal(t, 4, cfg.MaxActive)
}

func TestConfigured_FalseWhenEmpty(t *testing.T) {
	assert.False(t, S3Config{}.Configured())
	assert.False(t, DriveConfig{}.Configured())
}
