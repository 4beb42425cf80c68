package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "replate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
logFormat: text
donation:
  cacheTTL: 1m
  txTimeout: 2s
  latestRequestCap: 10
`), 0o600))

	t.Setenv("REPLATE_ADDR", ":7070")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("DONATION_TX_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_WRITES", "0")
	t.Setenv("PAYMENT_ALLOW_FAKE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr, "env overrides file")
	assert.Equal(t, "text", cfg.LogFormat, "file overrides default")
	assert.Equal(t, time.Minute, cfg.Donation.CacheTTL)
	assert.Equal(t, 3*time.Second, cfg.Donation.TxTimeout)
	assert.Equal(t, 10, cfg.Donation.LatestRequestCap)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Zero(t, cfg.RateLimit.Writes)
	assert.True(t, cfg.Payment.AllowFake)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("DONATION_TX_TIMEOUT", "soon")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("short signing key", func(t *testing.T) {
		t.Setenv("JWT_SIGNING_KEY", "short")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWTSigningKey")
	})

	t.Run("non numeric rate limit", func(t *testing.T) {
		t.Setenv("RATE_LIMIT_WRITES", "lots")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("non boolean fake payment flag", func(t *testing.T) {
		t.Setenv("PAYMENT_ALLOW_FAKE", "sometimes")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("unknown log level", func(t *testing.T) {
		t.Setenv("REPLATE_LOG_LEVEL", "verbose")
		_, err := Load("")
		require.Error(t, err)
	})
}
