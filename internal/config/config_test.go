package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 1<<20, cfg.FrameMaxBytes)
	assert.Equal(t, 1024, cfg.FrameMaxSeqJump)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionAge())
	assert.Equal(t, time.Hour, cfg.RetentionInterval())
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.ReadReplicaURL)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		SessionTTLSeconds: 60,
		FrameMaxBytes:     1024,
		FrameMaxSeqJump:   10,
	}
	assert.NoError(t, cfg.Validate())

	cfg.FrameMaxBytes = 0
	assert.Error(t, cfg.Validate())

	cfg.FrameMaxBytes = 1024
	cfg.SessionTTLSeconds = -1
	assert.Error(t, cfg.Validate())

	cfg.SessionTTLSeconds = 60
	cfg.EventRetentionDays = -1
	assert.Error(t, cfg.Validate())
}
