package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/songzhibin97/quantaguard/internal/ai/openai"
	"github.com/songzhibin97/quantaguard/internal/configs"
	collectorData "github.com/songzhibin97/quantaguard/internal/data/collector"
	"github.com/songzhibin97/quantaguard/internal/data/collector/binance"
	"github.com/songzhibin97/quantaguard/internal/data/market"
	"github.com/songzhibin97/quantaguard/internal/data/storage"
	"github.com/songzhibin97/quantaguard/internal/data/stream"
	"github.com/songzhibin97/quantaguard/internal/notify"
	"github.com/songzhibin97/quantaguard/internal/notify/telegram"
	"github.com/songzhibin97/quantaguard/internal/risk"
	binanceTrading "github.com/songzhibin97/quantaguard/internal/trading/binance"
	"github.com/songzhibin97/quantaguard/internal/trading/executor"
)

var (
	flagconf string
	flagenv  string

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))
)

func init() {
	flag.StringVar(&flagconf, "conf", "../configs/config.json", "config path, eg: -conf config.json")
	flag.StringVar(&flagenv, "env", "", "optional .env file with secrets")
}

func main() {
	flag.Parse()

	// 加载配置
	var envFiles []string
	if flagenv != "" {
		envFiles = append(envFiles, flagenv)
	}
	config, err := configs.Load(flagconf, envFiles...)
	if err != nil {
		log.Error("Error loading config", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded config", "symbols", config.Symbols, "testnet", config.ExchangeConfig.Debug)

	if config.Proxy != "" {
		_ = os.Setenv("HTTP_PROXY", config.Proxy)
		_ = os.Setenv("HTTPS_PROXY", config.Proxy)
		log.Debug("set proxy ok", "proxy", config.Proxy)
	}

	// 初始化各个组件
	var notifier notify.Sink = notify.NewLogSink(log)
	if config.Notify.TelegramToken != "" {
		sink, err := telegram.NewSink(config.Notify.TelegramToken, config.Notify.TelegramChatID)
		if err != nil {
			log.Error("Error creating telegram sink", "err", err)
			os.Exit(1)
		}
		notifier = sink
	}

	log.Debug("init notifier")

	var (
		trackers executor.TrackerStore
		opts     []executor.Option
	)
	if config.Database.ConnStr != "" {
		storager, err := storage.NewPostgresStorage(config.Database.ConnStr)
		if err != nil {
			log.Error("Error creating storage", "err", err)
			os.Exit(1)
		}
		defer storager.Close()
		trackers = storager
		opts = append(opts, executor.WithLedger(storager))
	} else {
		storager, err := storage.NewFileStorage(config.Database.TrackerFile)
		if err != nil {
			log.Error("Error creating storage", "err", err)
			os.Exit(1)
		}
		trackers = storager
	}

	log.Debug("init storager")

	exchange := binanceTrading.NewBinanceExecutor(config.ExchangeConfig.APIKey, config.ExchangeConfig.SecretKey, config.ExchangeConfig.Debug)

	log.Debug("init exchange")

	store := market.NewStore(config.Market)
	orders := executor.New(exchange, trackers, notifier, config.ExecutorParams(), log, opts...)

	collector := collectorData.NewDerivativesCollector([]collectorData.DataSource{
		binance.NewBinanceDataSource(),
	}, config.Symbols, store, log)

	log.Debug("init collector")

	system := &QuantGuard{
		config:    config,
		logger:    log,
		exchange:  exchange,
		market:    store,
		executor:  orders,
		refresher: collector,
		signals:   openai.NewOpenAIAnalyzer(config.AIConfig.APIKey, config.AIConfig.BaseURL, config.AIConfig.ModelType),
		sizer:     risk.NewSizer(exchange, config.Sizing, log),
		notifier:  notifier,
	}

	streamCfg := config.StreamSettings()
	if config.ExchangeConfig.Debug && streamCfg.BaseURL == "" {
		streamCfg.BaseURL = "wss://stream.binancefuture.com"
	}
	system.ingestor = stream.NewIngestor(streamCfg, exchange, store, orders, log, stream.WithWhaleHandler(system.onWhale))

	log.Debug("init system")

	// 运行系统
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := system.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("System error", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
