package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.Workers.DepositInterval)
	assert.Equal(t, 30*time.Second, cfg.Workers.WithdrawalInterval)
	assert.Equal(t, 5, cfg.Workers.WithdrawalBatch)
	assert.Equal(t, "92.00", cfg.Exchange.DefaultRate)
	assert.Equal(t, "20", cfg.Limits.MinUSDTWithdrawal)
	assert.Equal(t, "razorpay", cfg.Payout.Provider)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRON_API_KEY", "abc")
	t.Setenv("WORKERS_PAYOUT_INTERVAL", "3s")
	t.Setenv("LIMITS_DAILY_EXCHANGE_USDT", "250")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Tron.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Workers.PayoutInterval)
	assert.Equal(t, "250", cfg.Limits.DailyExchangeUSDT)
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	_, err := Load("/nonexistent/.env")
	assert.NoError(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
