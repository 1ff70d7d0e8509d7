package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// API config
	assert.Equal(t, "7114", cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)

	// Fold config
	assert.Equal(t, 10000, cfg.Fold.HiddenWidth)
	assert.Equal(t, 20, cfg.Fold.CompactWidth)
	assert.Equal(t, 15*time.Second, cfg.Fold.RehideDelay)
	assert.True(t, cfg.Fold.RehideEnabled)
	assert.False(t, cfg.Fold.AlwaysHidden)

	// Safety config
	assert.Equal(t, 500*time.Millisecond, cfg.Safety.CheckInterval)
	assert.Equal(t, 3, cfg.Safety.UnsafeThreshold)

	// Scan config
	assert.Equal(t, 300*time.Second, cfg.Scan.OwnersTTL)
	assert.Equal(t, 60*time.Second, cfg.Scan.PositionedTTL)

	// Relocate config
	assert.Equal(t, 50.0, cfg.Relocate.Margin)
	assert.Equal(t, 400*time.Millisecond, cfg.Relocate.SettleDelay)

	// Rate limit config
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "7114", cfg.API.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"TRAYFOLD_PORT":             "9000",
		"TRAYFOLD_HIDDEN_WIDTH":     "8000",
		"TRAYFOLD_COMPACT_WIDTH":    "24",
		"TRAYFOLD_REHIDE_DELAY":     "30s",
		"TRAYFOLD_SAFETY_INTERVAL":  "250ms",
		"TRAYFOLD_SAFETY_THRESHOLD": "5",
		"TRAYFOLD_OWNERS_TTL":       "120s",
		"TRAYFOLD_LOG_LEVEL":        "debug",
		"TRAYFOLD_LOG_DEV":          "true",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.API.Port)
	assert.Equal(t, 8000, cfg.Fold.HiddenWidth)
	assert.Equal(t, 24, cfg.Fold.CompactWidth)
	assert.Equal(t, 30*time.Second, cfg.Fold.RehideDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Safety.CheckInterval)
	assert.Equal(t, 5, cfg.Safety.UnsafeThreshold)
	assert.Equal(t, 120*time.Second, cfg.Scan.OwnersTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trayfold.yaml")

	content := []byte(`
fold:
  hidden_width: 6000
  rehide_delay: 5s
safety:
  unsafe_threshold: 4
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("TRAYFOLD_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	// File values override the defaults.
	assert.Equal(t, 6000, cfg.Fold.HiddenWidth)
	assert.Equal(t, 5*time.Second, cfg.Fold.RehideDelay)
	assert.Equal(t, 4, cfg.Safety.UnsafeThreshold)

	// Untouched sections keep their defaults.
	assert.Equal(t, 20, cfg.Fold.CompactWidth)
	assert.Equal(t, "7114", cfg.API.Port)
}

func TestLoadWithMissingConfigFile(t *testing.T) {
	t.Setenv("TRAYFOLD_CONFIG", "/nonexistent/trayfold.yaml")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "default is valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "hidden width below compact width",
			mutate: func(c *Config) {
				c.Fold.HiddenWidth = 10
				c.Fold.CompactWidth = 20
			},
			wantErr: true,
		},
		{
			name: "zero check interval",
			mutate: func(c *Config) {
				c.Safety.CheckInterval = 0
			},
			wantErr: true,
		},
		{
			name: "zero unsafe threshold",
			mutate: func(c *Config) {
				c.Safety.UnsafeThreshold = 0
			},
			wantErr: true,
		},
		{
			name: "negative positioned TTL",
			mutate: func(c *Config) {
				c.Scan.PositionedTTL = -time.Second
			},
			wantErr: true,
		},
		{
			name: "zero relocate margin",
			mutate: func(c *Config) {
				c.Relocate.Margin = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
