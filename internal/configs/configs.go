package configs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/songzhibin97/quantaguard/internal/data/market"
	"github.com/songzhibin97/quantaguard/internal/data/stream"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/trading/executor"
)

type Config struct {
	// 基础配置
	Symbols     []string `json:"symbols" yaml:"symbols"`           // 交易对列表
	Proxy       string   `json:"proxy" yaml:"proxy"`               // HTTP(S) 代理
	MetricsAddr string   `json:"metrics_addr" yaml:"metrics_addr"` // prometheus 监听地址, 空则不启动

	Database Database `json:"database" yaml:"database"`

	// 行情缓存与指标参数
	Market market.Config `json:"market" yaml:"market"`

	// 推送流参数
	Stream StreamConfig `json:"stream" yaml:"stream"`

	// 风险控制参数
	Sizing     risk.SizingParameters `json:"sizing" yaml:"sizing"`
	Protection risk.ProtectionParams `json:"protection" yaml:"protection"`

	// AI 模型参数
	AIConfig AIConfig `json:"ai_config" yaml:"ai_config"`

	// 交易参数
	TradingConfig TradingConfig `json:"trading_config" yaml:"trading_config"`

	// 交易所配置
	ExchangeConfig ExchangeConfig `json:"exchange_config" yaml:"exchange_config"`

	Notify NotifyConfig `json:"notify" yaml:"notify"`
}

type StreamConfig struct {
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	ReconnectDelay    string  `json:"reconnect_delay" yaml:"reconnect_delay"`
	KeepAliveInterval string  `json:"keep_alive_interval" yaml:"keep_alive_interval"` // listen key 续期间隔
	RefreshInterval   string  `json:"refresh_interval" yaml:"refresh_interval"`       // 资金费率/持仓量刷新间隔
	ReadTimeout       string  `json:"read_timeout" yaml:"read_timeout"`
	WhaleNotional     float64 `json:"whale_notional" yaml:"whale_notional"` // 大单阈值 (USDT)
	WhaleWindow       string  `json:"whale_window" yaml:"whale_window"`     // 大单去重窗口
}

type AIConfig struct {
	MinConfidence     float64 `json:"min_confidence" yaml:"min_confidence"` // AI决策最小置信度
	APIKey            string  `json:"api_key" yaml:"api_key"`               // AI服务API密钥
	BaseURL           string  `json:"base_url" yaml:"base_url"`             // OpenAI 兼容地址
	ModelType         string  `json:"model_type" yaml:"model_type"`         // AI模型类型
	DecisionInterval  string  `json:"decision_interval" yaml:"decision_interval"`
	MaxCorrelation    float64 `json:"max_correlation" yaml:"max_correlation"`       // 与已持仓品种的最大相关性
	CorrelationPeriod int     `json:"correlation_period" yaml:"correlation_period"` // 相关性窗口
}

type TradingConfig struct {
	Leverage           int    `json:"leverage" yaml:"leverage"`
	IsolatedMargin     bool   `json:"isolated_margin" yaml:"isolated_margin"`
	LimitEntryTTL      string `json:"limit_entry_ttl" yaml:"limit_entry_ttl"` // 限价单过期时间
	Cooldown           string `json:"cooldown" yaml:"cooldown"`               // 开仓后冷却时间
	PendingSafetyGrace string `json:"pending_safety_grace" yaml:"pending_safety_grace"`
	ReconcileInterval  string `json:"reconcile_interval" yaml:"reconcile_interval"`
}

type Database struct {
	ConnStr     string `json:"conn_str" yaml:"conn_str"`         // 数据库连接字符串, 空则使用文件
	TrackerFile string `json:"tracker_file" yaml:"tracker_file"` // tracker JSON 文件
}

type ExchangeConfig struct {
	Debug     bool   `json:"debug" yaml:"debug"`
	APIKey    string `json:"api_key" yaml:"api_key"`       // 交易所API密钥
	SecretKey string `json:"secret_key" yaml:"secret_key"` // 交易所密钥
}

type NotifyConfig struct {
	TelegramToken  string `json:"telegram_token" yaml:"telegram_token"`
	TelegramChatID int64  `json:"telegram_chat_id" yaml:"telegram_chat_id"`
}

// Load reads the JSON config at path, overlays secrets from the environment
// (and from envFiles, or ./.env when none are given), then applies defaults
// and validates.
func Load(path string, envFiles ...string) (*Config, error) {
	// a missing .env is normal in production
	_ = godotenv.Load(envFiles...)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.ExchangeConfig.APIKey, "BINANCE_API_KEY")
	setString(&c.ExchangeConfig.SecretKey, "BINANCE_API_SECRET", "BINANCE_SECRET_KEY")
	setString(&c.AIConfig.APIKey, "AI_API_KEY", "DEEPSEEK_API_KEY", "OPENAI_API_KEY")
	setString(&c.Database.ConnStr, "DATABASE_URL")
	setString(&c.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		c.Notify.TelegramChatID = id
	}
	if v := os.Getenv("BINANCE_TESTNET"); v != "" {
		testnet, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BINANCE_TESTNET: %w", err)
		}
		c.ExchangeConfig.Debug = testnet
	}
	return nil
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	setString := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}

	c.Market.SetDefaults()

	setString(&c.Stream.ReconnectDelay, "5s")
	setString(&c.Stream.KeepAliveInterval, "30m")
	setString(&c.Stream.RefreshInterval, "5m")
	setString(&c.Stream.WhaleWindow, "5s")

	if c.Sizing.Asset == "" {
		c.Sizing.Asset = "USDT"
	}
	if c.Sizing.RiskPercent == 0 {
		c.Sizing.RiskPercent = 2
	}
	if c.Sizing.MinOrder == 0 {
		c.Sizing.MinOrder = 6
	}

	if c.Protection.TrapSafetyFactor == 0 {
		c.Protection.TrapSafetyFactor = 1.5
	}
	if c.Protection.TPMultiplier == 0 {
		c.Protection.TPMultiplier = 3
	}
	if c.Protection.FallbackSLPercent == 0 {
		c.Protection.FallbackSLPercent = 2
	}
	if c.Protection.FallbackTPPercent == 0 {
		c.Protection.FallbackTPPercent = 4
	}

	if c.AIConfig.MinConfidence == 0 {
		c.AIConfig.MinConfidence = 0.7
	}
	if c.AIConfig.MaxCorrelation == 0 {
		c.AIConfig.MaxCorrelation = 0.85
	}
	if c.AIConfig.CorrelationPeriod == 0 {
		c.AIConfig.CorrelationPeriod = 30
	}
	setString(&c.AIConfig.DecisionInterval, "1m")

	if c.TradingConfig.Leverage == 0 {
		c.TradingConfig.Leverage = 5
	}
	setString(&c.TradingConfig.LimitEntryTTL, "15m")
	setString(&c.TradingConfig.Cooldown, "30m")
	setString(&c.TradingConfig.PendingSafetyGrace, "2m")
	setString(&c.TradingConfig.ReconcileInterval, "15s")

	if c.Database.ConnStr == "" {
		setString(&c.Database.TrackerFile, "data/trackers.json")
	}
}

// Validate checks ranges and that every duration parses.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Symbols) == 0 {
		errs = append(errs, fmt.Errorf("symbols: at least one symbol is required"))
	}
	if c.ExchangeConfig.APIKey == "" || c.ExchangeConfig.SecretKey == "" {
		errs = append(errs, fmt.Errorf("exchange_config: api_key and secret_key are required"))
	}
	if err := c.Sizing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sizing: %w", err))
	}
	if err := c.Protection.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("protection: %w", err))
	}
	if c.AIConfig.MinConfidence < 0 || c.AIConfig.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("ai_config: min_confidence must be within [0, 1]"))
	}
	if c.AIConfig.MaxCorrelation <= 0 || c.AIConfig.MaxCorrelation > 1 {
		errs = append(errs, fmt.Errorf("ai_config: max_correlation must be within (0, 1]"))
	}
	if c.TradingConfig.Leverage < 1 || c.TradingConfig.Leverage > 125 {
		errs = append(errs, fmt.Errorf("trading_config: leverage must be within [1, 125]"))
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == 0) {
		errs = append(errs, fmt.Errorf("notify: telegram_token and telegram_chat_id go together"))
	}

	for name, value := range map[string]string{
		"stream.reconnect_delay":              c.Stream.ReconnectDelay,
		"stream.keep_alive_interval":          c.Stream.KeepAliveInterval,
		"stream.refresh_interval":             c.Stream.RefreshInterval,
		"stream.read_timeout":                 c.Stream.ReadTimeout,
		"stream.whale_window":                 c.Stream.WhaleWindow,
		"ai_config.decision_interval":         c.AIConfig.DecisionInterval,
		"trading_config.limit_entry_ttl":      c.TradingConfig.LimitEntryTTL,
		"trading_config.cooldown":             c.TradingConfig.Cooldown,
		"trading_config.pending_safety_grace": c.TradingConfig.PendingSafetyGrace,
		"trading_config.reconcile_interval":   c.TradingConfig.ReconcileInterval,
	} {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// StreamSettings converts the stream section for stream.NewIngestor.
func (c *Config) StreamSettings() stream.Config {
	return stream.Config{
		BaseURL:           c.Stream.BaseURL,
		Symbols:           c.Symbols,
		Timeframes:        []string{c.Market.PrimaryTimeframe, c.Market.TrendTimeframe},
		ReconnectDelay:    mustDuration(c.Stream.ReconnectDelay),
		KeepAliveInterval: mustDuration(c.Stream.KeepAliveInterval),
		RefreshInterval:   mustDuration(c.Stream.RefreshInterval),
		ReadTimeout:       mustDuration(c.Stream.ReadTimeout),
		WhaleNotional:     c.Stream.WhaleNotional,
		WhaleWindow:       mustDuration(c.Stream.WhaleWindow),
	}
}

// ExecutorParams converts the trading section for executor.New.
func (c *Config) ExecutorParams() executor.Params {
	return executor.Params{
		LimitEntryTTL:      mustDuration(c.TradingConfig.LimitEntryTTL),
		Cooldown:           mustDuration(c.TradingConfig.Cooldown),
		PendingSafetyGrace: mustDuration(c.TradingConfig.PendingSafetyGrace),
		IsolatedMargin:     c.TradingConfig.IsolatedMargin,
		Protection:         c.Protection,
	}
}

func (c *Config) ReconcileInterval() time.Duration {
	return mustDuration(c.TradingConfig.ReconcileInterval)
}

func (c *Config) DecisionInterval() time.Duration {
	return mustDuration(c.AIConfig.DecisionInterval)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// mustDuration is only called after Validate; invalid input yields 0.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
