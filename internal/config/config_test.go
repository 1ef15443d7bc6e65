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

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, int64(1), cfg.MinPrice)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ListingDuration)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Empty(t, cfg.WebhookURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BAZAAR_ADDR", ":9999")
	t.Setenv("BAZAAR_MAX_PRICE", "500")
	t.Setenv("BAZAAR_LOCK_TIMEOUT", "45s")
	t.Setenv("BAZAAR_WEBHOOK_URL", "https://hooks.example.com/trades")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, int64(500), cfg.MaxPrice)
	assert.Equal(t, 45*time.Second, cfg.LockTimeout)
	assert.Equal(t, "https://hooks.example.com/trades", cfg.WebhookURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "ZeroMinPrice", mutate: func(c *Config) { c.MinPrice = 0 }},
		{name: "MaxBelowMin", mutate: func(c *Config) { c.MinPrice = 100; c.MaxPrice = 99 }},
		{name: "ZeroLockTimeout", mutate: func(c *Config) { c.LockTimeout = 0 }},
		{name: "NegativeListingDuration", mutate: func(c *Config) { c.ListingDuration = -time.Second }},
		{name: "ZeroSweepInterval", mutate: func(c *Config) { c.SweepInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
