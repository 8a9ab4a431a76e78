package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.Prices.Freshness)
	assert.Equal(t, 2*time.Second, cfg.Prices.FetchTimeout)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, "Admin", cfg.AdminGroup)

	cash, err := cfg.StartingCash()
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(100000)))
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := `
port: 9090
season:
  id: spring-24
  starting_cash: "50000"
prices:
  freshness: 30s
feed:
  kafka_brokers: ["k1:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("PORT", "9191")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Port, "env wins over file")
	assert.Equal(t, "spring-24", cfg.Season.ID)
	assert.Equal(t, 30*time.Second, cfg.Prices.Freshness)
	assert.Equal(t, 2*time.Second, cfg.Prices.FetchTimeout, "unset keys keep defaults")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Feed.KafkaBrokers)
	assert.Equal(t, ":9191", cfg.HTTPAddr())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Season.StartingCash = "-1"
	cfg.Ledger.MaxAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting cash")
	assert.Contains(t, err.Error(), "max attempts")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoad_AuthFromEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Auth.Verified())

	t.Setenv("AUTH_HMAC_SECRET", "s3cret")
	t.Setenv("AUTH_ISSUER", "https://idp.example.com")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Verified())
	assert.Equal(t, "https://idp.example.com", cfg.Auth.Issuer)

	t.Setenv("AUTH_PUBLIC_KEY_FILE", "/etc/keys/idp.pem")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}
