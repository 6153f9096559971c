package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
	assert.Equal(t, LockBackendAdvisory, cfg.Lock.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Lock.LockDuration())
	assert.Equal(t, "@every 30s", cfg.Lock.SweepSchedule)
	assert.Equal(t, 32, cfg.Lock.MaxConns)
	assert.Equal(t, 8, cfg.Code.DefaultLength)
	assert.True(t, cfg.App.IsDevelopment())
	assert.Contains(t, cfg.Database.GetDatabaseURL(), "dbname=coupon_books")
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"APP_ENVIRONMENT":       "production",
		"LOCK_BACKEND":          "memory",
		"LOCK_DEFAULT_DURATION": "60",
		"SERVER_PORT":           "9090",
		"CODE_CHARSET":          "XYZ",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, LockBackendMemory, cfg.Lock.Backend)
	assert.Equal(t, time.Minute, cfg.Lock.LockDuration())
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.GetServerAddr())
	assert.Equal(t, "XYZ", cfg.Code.Charset)
}

func TestLoadRejectsUnknownLockBackend(t *testing.T) {
	_, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"LOCK_BACKEND": "redis",
	}))
	assert.ErrorContains(t, err, "invalid LOCK_BACKEND")
}

func TestLoadRejectsNonPositiveDuration(t *testing.T) {
	_, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"LOCK_DEFAULT_DURATION": "0",
	}))
	assert.Error(t, err)
}
