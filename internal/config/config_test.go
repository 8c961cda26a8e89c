package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upqueue/internal/config"
	"upqueue/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, int64(100*1000*1000), cfg.S3.MaxFileSize)
	assert.Equal(t, 5, cfg.Policy.MaxRetries)
	assert.Equal(t, "postgres", cfg.Results.Store)
	assert.Equal(t, time.Hour, cfg.Signer.TTL)
	assert.Empty(t, cfg.Signer.Secret)
	assert.Equal(t, 30*time.Minute, cfg.DB.MaxLifetime)
	assert.False(t, cfg.DB.AutoMigrate)
	assert.Equal(t, 24*time.Hour, cfg.Results.ReplayWindow)
	assert.Equal(t, 500, cfg.Results.ReplayLimit)
	assert.Equal(t, 7*24*time.Hour, cfg.Results.Retention)
}

func TestLoad_RejectsRetentionShorterThanReplay(t *testing.T) {
	t.Setenv("UPQUEUE_RESULTS_RETENTION", "1h")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("UPQUEUE_POLICY_MAX_RETRIES", "10")
	t.Setenv("UPQUEUE_POLICY_BACKOFF", "linear")
	t.Setenv("UPQUEUE_S3_MAX_FILE_SIZE", "2GB")
	t.Setenv("UPQUEUE_RESULTS_STORE", "memory")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Policy.MaxRetries)
	assert.Equal(t, int64(2*1000*1000*1000), cfg.S3.MaxFileSize)
	assert.Equal(t, "memory", cfg.Results.Store)
}

func TestLoad_RejectsInvalidPolicy(t *testing.T) {
	t.Setenv("UPQUEUE_POLICY_NETWORK", "unmetered-only")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadSize(t *testing.T) {
	t.Setenv("UPQUEUE_S3_MAX_FILE_SIZE", "lots")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestPolicyConfig_ToPolicy(t *testing.T) {
	cfg := config.PolicyConfig{MaxRetries: 10, Network: "none", Backoff: "linear", BackoffMillis: 500}

	p := cfg.ToPolicy()

	assert.Equal(t, domain.Policy{
		MaxRetries:    10,
		Network:       domain.NetworkNone,
		Backoff:       domain.BackoffLinear,
		BackoffMillis: 500,
	}, p)
	assert.Equal(t, 1500*time.Millisecond, p.Delay(3))
}
