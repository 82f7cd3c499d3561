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

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 30*time.Minute, cfg.PrepLead())
	assert.Equal(t, 12*time.Hour, cfg.RestoreWindow)
	assert.Contains(t, cfg.CacheManifest, "/")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEALCUE_PORT", "9999")
	t.Setenv("MEALCUE_PREP_LEAD_MINUTES", "45")
	t.Setenv("MEALCUE_CACHE_MANIFEST", "/,/app.js")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 45*time.Minute, cfg.PrepLead())
	assert.Equal(t, []string{"/", "/app.js"}, cfg.CacheManifest)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad driver", func(c *Config) { c.DBDriver = "mysql" }, "unsupported DB_DRIVER"},
		{"empty dsn", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL is required"},
		{"zero lead", func(c *Config) { c.PrepLeadMinutes = 0 }, "PREP_LEAD_MINUTES"},
		{"relative origin", func(c *Config) { c.AppOrigin = "/app" }, "APP_ORIGIN"},
		{"bad zone", func(c *Config) { c.TimeZone = "Mars/Olympus" }, "invalid TIME_ZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewForTesting(t.TempDir() + "/test.db")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
