package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("KINGDOM_USER_ID", "u1")

	cfg := Load()
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "u1", cfg.UserID)
	require.Equal(t, 30*time.Second, cfg.PresenceHeartbeat)
	require.Equal(t, 5*time.Second, cfg.TypingExpiry)
	require.Equal(t, 10*time.Second, cfg.TypingCleanup)
	require.Equal(t, 50, cfg.WindowSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KINGDOM_REMOTE_TIMEOUT", "2s")
	t.Setenv("KINGDOM_TYPING_EXPIRY", "nonsense")
	t.Setenv("KINGDOM_WINDOW_SIZE", "20")
	t.Setenv("CORS_ORIGINS", "http://a.test, ,http://b.test")

	cfg := Load()
	require.Equal(t, 2*time.Second, cfg.RemoteTimeout)
	require.Equal(t, 5*time.Second, cfg.TypingExpiry)
	require.Equal(t, 20, cfg.WindowSize)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestProductionRequiresSettings(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/kingdom")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("KINGDOM_USER_ID", "")
	require.PanicsWithValue(t, "KINGDOM_USER_ID is required in production", func() { Load() })

	t.Setenv("KINGDOM_USER_ID", "u1")
	t.Setenv("KINGDOM_BRIDGE_TOKEN", "secret")
	require.NotPanics(t, func() { Load() })
}
