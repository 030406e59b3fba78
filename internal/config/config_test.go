package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SERVER_URL", "http://auth.local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "gmail", cfg.Provider)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.InterBatchDelay)
	assert.InDelta(t, 4, cfg.ProviderQPS, 0.001)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_SERVER_URL", "http://auth.local")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("SYNC_BATCH_SIZE", "50")
	t.Setenv("SYNC_BATCH_DELAY_MS", "10")
	t.Setenv("PROVIDER_QPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.InterBatchDelay)
	assert.InDelta(t, 2.5, cfg.ProviderQPS, 0.001)
}

func TestLoadRequiresAuthServer(t *testing.T) {
	t.Setenv("AUTH_SERVER_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SERVER_URL")
}

func TestValidateProvider(t *testing.T) {
	cfg := &Config{Provider: "imap", AuthServerURL: "http://auth.local", BatchSize: 100}
	assert.Error(t, cfg.Validate())

	cfg.Provider = "outlook"
	assert.Error(t, cfg.Validate(), "outlook requires a Graph user id")

	cfg.GraphUserID = "user-1"
	assert.NoError(t, cfg.Validate())
}

func TestValidateBatchSize(t *testing.T) {
	cfg := &Config{Provider: "gmail", AuthServerURL: "http://auth.local"}
	for _, bad := range []int{0, -5, 501} {
		cfg.BatchSize = bad
		assert.Error(t, cfg.Validate(), bad)
	}
	cfg.BatchSize = 500
	assert.NoError(t, cfg.Validate())
}
