package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "8400", cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage.DebounceWindow)
	assert.False(t, cfg.Storage.DisableDebounce)
	assert.NotEmpty(t, cfg.Storage.Root)
	assert.NotEmpty(t, cfg.Storage.ImagesDir)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PIXELMUSE_PORT", "9000")
	t.Setenv("PIXELMUSE_STORAGE_ROOT", "/tmp/pixelmuse-test")
	t.Setenv("PIXELMUSE_DEBOUNCE_WINDOW", "250ms")
	t.Setenv("PIXELMUSE_DISABLE_DEBOUNCED_WRITES", "true")
	t.Setenv("PIXELMUSE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/tmp/pixelmuse-test", cfg.Storage.Root)
	assert.Equal(t, "/tmp/pixelmuse-test/images", cfg.Storage.ImagesDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.DebounceWindow)
	assert.True(t, cfg.Storage.DisableDebounce)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
