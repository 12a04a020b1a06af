package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/workoutsync/pkg/types"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		for _, k := range []string{"GOOGLE_CLOUD_PROJECT", "ENABLE_PUBLISH", "CREDENTIAL_BACKEND", "STRAVA_SCOPES", "VENDOR_HTTP_TIMEOUT", "PORT"} {
			t.Setenv(k, "")
		}

		cfg := LoadConfig()

		assert.Equal(t, "fitglue-project", cfg.ProjectID)
		assert.False(t, cfg.EnablePublish)
		assert.Equal(t, BackendFirestore, cfg.CredentialBackend)
		assert.Equal(t, []string{"read", "activity:read_all"}, cfg.Strava.Scopes)
		assert.Equal(t, 30*time.Second, cfg.VendorTimeout)
		assert.Equal(t, 10*time.Second, cfg.LookupTimeout)
		assert.Equal(t, "8080", cfg.Port)
		assert.False(t, cfg.Strava.Enabled())
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("GOOGLE_CLOUD_PROJECT", "test-project")
		t.Setenv("ENABLE_PUBLISH", "true")
		t.Setenv("CREDENTIAL_BACKEND", "Postgres")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("STRAVA_CLIENT_ID", "cid")
		t.Setenv("STRAVA_REDIRECT_URI", "https://app.example/strava")
		t.Setenv("STRAVA_SCOPES", "read,activity:read")
		t.Setenv("HUAWEI_PROXY_URL", "socks5://proxy:1080")
		t.Setenv("VENDOR_HTTP_TIMEOUT", "45s")

		cfg := LoadConfig()

		assert.Equal(t, "test-project", cfg.ProjectID)
		assert.True(t, cfg.EnablePublish)
		assert.Equal(t, BackendPostgres, cfg.CredentialBackend)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)
		assert.True(t, cfg.Strava.Enabled())
		assert.Equal(t, []string{"read", "activity:read"}, cfg.Strava.Scopes)
		assert.Equal(t, "socks5://proxy:1080", cfg.Huawei.ProxyURL)
		assert.Equal(t, 45*time.Second, cfg.VendorTimeout)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "workout-sync", slog.LevelInfo)

	logger.With("component", "strava").Info("Fetched workouts", "normalized", 3)
	logger.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[strava] Fetched workouts", entry["message"])
	assert.Equal(t, "INFO", entry["severity"])
	assert.Equal(t, "strava", entry["component"])
	assert.Equal(t, "workout-sync", entry["service"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestComponentHandler_RecordAttributeWins(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "svc", slog.LevelInfo).With("component", "outer")

	logger.Info("hello", "component", "inner")

	assert.Contains(t, buf.String(), `"message":"[inner] hello"`)
}

func memoryConfig() *Config {
	return &Config{
		ProjectID:         "test",
		CredentialBackend: BackendMemory,
		VendorTimeout:     time.Second,
		LookupTimeout:     time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServiceWithConfig_Memory(t *testing.T) {
	svc, err := NewServiceWithConfig(context.Background(), memoryConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.NotNil(t, svc.Credentials)
	require.NotNil(t, svc.Pub)
	require.NotNil(t, svc.Strava)

	var providers []types.Provider
	for _, a := range svc.Registry.All() {
		providers = append(providers, a.ProviderID())
	}
	assert.Equal(t, []types.Provider{types.ProviderStrava, types.ProviderHuawei, types.ProviderPolar}, providers)

	_, ok := svc.Strava.OAuthURL("state")
	assert.False(t, ok, "no client id configured")
}

func TestNewServiceWithConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.CredentialBackend = "sqlite" }, want: "unknown CREDENTIAL_BACKEND"},
		{name: "postgres without url", mutate: func(c *Config) { c.CredentialBackend = BackendPostgres }, want: "POSTGRES_URL"},
		{name: "invalid proxy", mutate: func(c *Config) { c.Huawei.ProxyURL = "ftp://proxy" }, want: "huawei"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)

			_, err := NewServiceWithConfig(context.Background(), cfg, discardLogger())

			assert.ErrorContains(t, err, tt.want)
		})
	}
}
