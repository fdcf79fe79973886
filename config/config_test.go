package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 16, cfg.Session.PinAttempts)
	assert.Equal(t, 1, cfg.Game.WinMargin)
	assert.Equal(t, PointsConfig{Win: 3, Draw: 1, Loss: 0}, cfg.Tournament.Points)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("session:\n  ttl: 2m\ngame:\n  win_margin: 2\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 2, cfg.Game.WinMargin)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}
