package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./servers.json", cfg.ServersConfigPath)
	assert.Empty(t, cfg.RedisAddress)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis:6379", cfg.RedisAddress)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Load().Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Load()
	cfg.Port = "not-a-port"
	assert.Error(t, cfg.Validate())

	cfg.Port = "70000"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRedisSettings(t *testing.T) {
	cfg := Load()
	cfg.RedisAddress = "redis:6379"
	cfg.RedisDB = "16"
	assert.Error(t, cfg.Validate())

	cfg.RedisDB = "0"
	cfg.RedisPoolSize = "0"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRateLimitSettings(t *testing.T) {
	cfg := Load()
	cfg.RateLimitPerMinute = "0"
	assert.Error(t, cfg.Validate())

	cfg.RateLimitPerMinute = "60"
	cfg.RateLimitBurst = "-1"
	assert.Error(t, cfg.Validate())
}
