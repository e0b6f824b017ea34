package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_API_SECRET", "env-secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("DATABASE_URL", "")

	path := writeConfig(t, `{
		"symbols": ["BTCUSDT", "ETHUSDT"],
		"exchange_config": {"api_key": "file-key", "secret_key": "file-secret"},
		"trading_config": {"leverage": 10, "cooldown": "45m"},
		"stream": {"whale_notional": 500000}
	}`)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.ExchangeConfig.APIKey)
	assert.Equal(t, "env-secret", cfg.ExchangeConfig.SecretKey)
	assert.Equal(t, int64(-100123), cfg.Notify.TelegramChatID)
	assert.Equal(t, 10, cfg.TradingConfig.Leverage)

	params := cfg.ExecutorParams()
	assert.Equal(t, 45*time.Minute, params.Cooldown)
	assert.Equal(t, 15*time.Minute, params.LimitEntryTTL)
	assert.Equal(t, 1.5, params.Protection.TrapSafetyFactor)

	sc := cfg.StreamSettings()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, sc.Symbols)
	assert.Equal(t, []string{"15m", "4h"}, sc.Timeframes)
	assert.Equal(t, 5*time.Second, sc.WhaleWindow)
	assert.Equal(t, 500000.0, sc.WhaleNotional)

	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval())
	assert.Equal(t, time.Minute, cfg.DecisionInterval())
	assert.Equal(t, "data/trackers.json", cfg.Database.TrackerFile)
	assert.Equal(t, 500, cfg.Market.Capacity)
}

func TestLoad_EnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("BINANCE_SECRET_KEY=dotenv-secret\n"), 0o644))
	t.Setenv("BINANCE_API_SECRET", "")
	t.Setenv("BINANCE_SECRET_KEY", "")
	// godotenv never overrides variables that are already set, even empty ones
	require.NoError(t, os.Unsetenv("BINANCE_SECRET_KEY"))

	path := writeConfig(t, `{"symbols": ["BTCUSDT"], "exchange_config": {"api_key": "k"}}`)

	cfg, err := Load(path, envPath)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.ExchangeConfig.SecretKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{not json`))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Symbols: []string{"BTCUSDT"}}
		cfg.ExchangeConfig.APIKey = "k"
		cfg.ExchangeConfig.SecretKey = "s"
		cfg.SetDefaults()
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }, "symbols"},
		{"no credentials", func(c *Config) { c.ExchangeConfig.SecretKey = "" }, "exchange_config"},
		{"bad duration", func(c *Config) { c.TradingConfig.Cooldown = "soon" }, "trading_config.cooldown"},
		{"negative duration", func(c *Config) { c.Stream.ReconnectDelay = "-1s" }, "stream.reconnect_delay"},
		{"leverage", func(c *Config) { c.TradingConfig.Leverage = 200 }, "leverage"},
		{"confidence", func(c *Config) { c.AIConfig.MinConfidence = 70 }, "min_confidence"},
		{"risk percent", func(c *Config) { c.Sizing.RiskPercent = -1 }, "sizing"},
		{"protection", func(c *Config) { c.Protection.TPMultiplier = -2 }, "protection"},
		{"telegram half configured", func(c *Config) { c.Notify.TelegramToken = "t" }, "notify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
