package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(*testing.T, *Config)
	}{
		{
			name:    "defaults with no environment set",
			envVars: nil,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "development", c.Environment)
				assert.Equal(t, "0", c.Camera.DeviceID)
				assert.Equal(t, 0.25, c.Security.GoldenThreshold)
				assert.Equal(t, 0.42, c.Security.StandardThreshold)
				assert.Equal(t, 45, c.Storage.MaxAgeDays)
				assert.Equal(t, 1, c.Adaptive.LimitPerDay)
			},
		},
		{
			name: "overrides via SENTINEL_ prefixed vars",
			envVars: map[string]string{
				"SENTINEL_ENV":                       "production",
				"SENTINEL_CAMERA_DEVICE_ID":           "/dev/video2",
				"SENTINEL_SECURITY_GOLDEN_THRESHOLD":  "0.20",
				"SENTINEL_ADAPTIVE_MAX_ADAPTIVE":       "30",
				"SENTINEL_STORAGE_LOG_RETENTION_DAYS":  "7",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "production", c.Environment)
				assert.Equal(t, "/dev/video2", c.Camera.DeviceID)
				assert.Equal(t, 0.20, c.Security.GoldenThreshold)
				assert.Equal(t, 30, c.Adaptive.MaxAdaptive)
				assert.Equal(t, 7, c.Storage.LogRetentionDays)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfig_IsDevelopmentIsProduction(t *testing.T) {
	dev := &Config{Environment: "development"}
	prod := &Config{Environment: "production"}

	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}

func TestPublishedFlattensGroups(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)

	pub := cfg.Published()
	assert.Equal(t, cfg.Security.GoldenThreshold, pub["security.golden_threshold"])
	assert.Equal(t, cfg.Adaptive.MaxAdaptive, pub["adaptive.max_adaptive"])
	assert.Equal(t, cfg.Storage.MaxAgeDays, pub["storage.max_age_days"])
	assert.NotContains(t, pub, "rpc.socket_path")
}

func TestNewAuditLoggerCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	logger, err := NewAuditLogger(dir, now)
	require.NoError(t, err)
	logger.Info("session succeeded", "user", "alex", "tier", "GOLDEN")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sentinel-2026-03-01.log", entries[0].Name())
}
