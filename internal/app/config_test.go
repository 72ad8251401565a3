package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "order-events", cfg.Kafka.Topic)

	explicit := Config{Addr: "127.0.0.1:1234", DatabaseURL: "postgres://explicit"}
	explicit.Redis.URL = "redis://explicit"
	explicit.Kafka.Topic = "orders-v2"
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit", explicit.DatabaseURL)
	assert.Equal(t, "redis://explicit", explicit.Redis.URL)
	assert.Equal(t, "127.0.0.1:1234", explicit.Addr)
	assert.Equal(t, "orders-v2", explicit.Kafka.Topic)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Redis: RedisConfig{ZoneTTL: time.Minute}}
	require.Error(t, cfg.validate())

	cfg.DatabaseURL = "postgres://x"
	require.NoError(t, cfg.validate())

	cfg.Redis.ZoneTTL = 0
	require.Error(t, cfg.validate())
}
