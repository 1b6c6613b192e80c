package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "jpy", cfg.Payout.Currency)
	assert.Equal(t, 5, cfg.Payout.DaysAfterEvent)
	assert.Equal(t, int64(100), cfg.Payout.MinimumAmount)
	assert.Equal(t, 100, cfg.Payout.MaxEventsPerRun)
	assert.Equal(t, 3, cfg.Payout.MaxConcurrency)
	assert.Equal(t, int64(1000), cfg.Payout.FeeBasisPoints)
	assert.False(t, cfg.Payout.DryRun)
	assert.Equal(t, "postgres", cfg.DBType)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CRON_SECRET", " shhh ")
	t.Setenv("PAYOUT_DAYS_AFTER_EVENT", "7")
	t.Setenv("PAYOUT_MINIMUM_AMOUNT", "2500")
	t.Setenv("PAYOUT_MAX_CONCURRENCY", "8")
	t.Setenv("PAYOUT_DRY_RUN", "true")
	t.Setenv("PAYOUT_CURRENCY", "USD")

	cfg := Load()

	require.Equal(t, "shhh", cfg.CronSecret)
	assert.Equal(t, 7, cfg.Payout.DaysAfterEvent)
	assert.Equal(t, int64(2500), cfg.Payout.MinimumAmount)
	assert.Equal(t, 8, cfg.Payout.MaxConcurrency)
	assert.True(t, cfg.Payout.DryRun)
	assert.Equal(t, "usd", cfg.Payout.Currency)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("PAYOUT_DAYS_AFTER_EVENT", "soon")
	t.Setenv("PAYOUT_MINIMUM_AMOUNT", "-40")

	cfg := Load()

	assert.Equal(t, 5, cfg.Payout.DaysAfterEvent)
	assert.Equal(t, int64(100), cfg.Payout.WithDefaults().MinimumAmount)
}

func TestPayoutConfigWithDefaults(t *testing.T) {
	cfg := PayoutConfig{MaxConcurrency: -1, FeeBasisPoints: 0}.WithDefaults()

	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, int64(1000), cfg.FeeBasisPoints)
	assert.Equal(t, "jpy", cfg.Currency)
	assert.Equal(t, 5, cfg.DaysAfterEvent)
}
