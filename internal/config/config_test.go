package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1<<20, cfg.PhotoBudgetBytes)
	assert.Equal(t, 5<<20, cfg.VideoBudgetBytes)
	assert.Equal(t, 15<<20, cfg.VideoRawCeiling)
	assert.Equal(t, 3*time.Second, cfg.CameraGrace)
	assert.True(t, cfg.CheckoutGeofence)
	assert.Equal(t, "off", cfg.AuditBackend)
}

func TestLoadCustomValues(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("DB_PATH", "/custom/fieldvisit.db")
	t.Setenv("PHOTO_BUDGET_BYTES", "524288")
	t.Setenv("CHECKOUT_GEOFENCE", "false")
	t.Setenv("OUTLET_CACHE_TTL", "90s")
	t.Setenv("AUDIT_BACKEND", "claude")
	t.Setenv("CLAUDE_API_KEY", "sk-test123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/custom/fieldvisit.db", cfg.DBPath)
	assert.Equal(t, 512<<10, cfg.PhotoBudgetBytes)
	assert.False(t, cfg.CheckoutGeofence)
	assert.Equal(t, 90*time.Second, cfg.OutletCacheTTL)
	assert.Equal(t, "claude", cfg.AuditBackend)
	assert.Equal(t, "sk-test123", cfg.ClaudeAPIKey)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("CAMERA_GRACE", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
}
