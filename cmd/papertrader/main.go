package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"papertrader/internal/alert"
	"papertrader/internal/bootstrap"
	"papertrader/internal/core"
	"papertrader/internal/events"
	"papertrader/internal/infrastructure/metrics"
	"papertrader/internal/paper"
	"papertrader/internal/risk"
	"papertrader/internal/signal"
	"papertrader/internal/stream"

	"github.com/shopspring/decimal"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger
	cfg := app.Cfg

	logger.Info("Configuration loaded", "config", cfg.String())

	// Alerts.
	alerts := alert.NewAlertManager(logger)
	if cfg.Alerts.Enabled {
		alerts.AddChannel(alert.NewWebhookChannel(cfg.Alerts.WebhookURL))
	}
	defer alerts.Stop()

	// Event bus and risk gate.
	bus := events.NewBus(logger)

	var gate core.IRiskGate
	if cfg.Risk.Enabled {
		breaker := risk.NewCircuitBreaker(risk.CircuitConfig{
			MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLoss,
			MaxDrawdownPercent:   decimal.NewFromFloat(cfg.Risk.MaxDrawdownPercent),
			ReferenceBalance:     decimal.NewFromFloat(cfg.Trading.InitialBalance),
			CooldownPeriod:       time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
		})
		basicGate := risk.NewBasicGate(risk.GateConfig{
			MaxPositionValue: decimal.NewFromFloat(cfg.Risk.MaxPositionValue),
			MaxOpenPositions: cfg.Risk.MaxOpenPositions,
			MinBalance:       decimal.NewFromFloat(cfg.Risk.MinBalance),
		}, breaker, logger)
		bus.SubscribeState(basicGate)
		gate = basicGate
	}

	// Paper trading engine.
	engine := paper.NewEngine(paper.Config{
		InitialBalance:    decimal.NewFromFloat(cfg.Trading.InitialBalance),
		CommissionRate:    decimal.NewFromFloat(cfg.Trading.CommissionRate),
		SizingFraction:    decimal.NewFromFloat(cfg.Trading.SizingFraction),
		QuantityDecimals:  cfg.Trading.QuantityDecimals,
		MinQuantity:       decimal.NewFromFloat(cfg.Trading.MinQuantity),
		LimitPollInterval: cfg.LimitPollInterval(),
	}, bus, gate, alerts, logger)

	// Signal pipeline.
	validator := signal.NewValidator(signal.ValidatorConfig{
		MinConfidence:     cfg.Signals.MinConfidence,
		Cooldown:          cfg.SignalCooldown(),
		MaxSignalsPerHour: cfg.Signals.MaxSignalsPerHour,
	}, logger)

	sigEngine := signal.NewEngine(signal.Options{
		BufferCapacity: cfg.Signals.BufferCapacity,
		MinHistory:     cfg.Signals.MinHistoryPoints,
	}, validator, logger)

	sigEngine.RegisterStrategy("breakout", signal.Breakout{}, nil)
	sigEngine.RegisterStrategy("momentum", signal.Momentum{}, nil)
	sigEngine.RegisterStrategy("mean_reversion", signal.MeanReversion{}, nil)
	sigEngine.RegisterStrategy("contrarian", signal.Contrarian{}, nil)
	sigEngine.OnSignal(engine)

	// Market data transport.
	transport := stream.NewTransport(cfg.Stream, logger)
	transport.OnMessage("tickers.", func(topic string, data []byte) {
		var tick struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Volume24h string `json:"volume24h"`
		}
		if err := json.Unmarshal(data, &tick); err != nil {
			logger.Warn("Undecodable ticker payload", "topic", topic, "error", err)
			return
		}
		price, err := decimal.NewFromString(tick.LastPrice)
		if err != nil || !price.IsPositive() {
			return
		}
		volume, _ := decimal.NewFromString(tick.Volume24h)

		engine.UpdateMark(tick.Symbol, price)
		sigEngine.UpdateMarketData(tick.Symbol, price.InexactFloat64(), volume.InexactFloat64())
		sigEngine.GenerateSignals(tick.Symbol)
	})

	// Re-issue public subscriptions after every (re)connect.
	transport.SetOnConnected(core.ChannelPublic, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, symbol := range cfg.App.Symbols {
			topic := "tickers." + symbol
			if err := transport.Subscribe(ctx, core.ChannelPublic, topic); err != nil {
				logger.Error("Subscription failed", "topic", topic, "error", err)
			}
		}
	})

	var runners []bootstrap.Runner

	if cfg.Telemetry.EnableMetrics {
		runners = append(runners, metrics.NewServer(cfg.Telemetry.MetricsPort, logger))
	}

	// REST fallback: seed marks before the first tick arrives and keep
	// them fresh while the stream is down, so resting limit orders stay
	// serviced.
	if cfg.Stream.RestURL != "" {
		rest := stream.NewRestClient(cfg.Stream, logger)
		pollPrices := func(ctx context.Context) {
			for _, symbol := range cfg.App.Symbols {
				price, err := rest.LatestPrice(ctx, symbol)
				if err != nil {
					logger.Warn("Price snapshot failed", "symbol", symbol, "error", err)
					continue
				}
				engine.UpdateMark(symbol, price)
			}
		}

		runners = append(runners, bootstrap.RunnerFunc(func(ctx context.Context) error {
			pollPrices(ctx)
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if !transport.IsConnected(core.ChannelPublic) {
						pollPrices(ctx)
					}
				}
			}
		}))
	}

	runners = append(runners, bootstrap.RunnerFunc(func(ctx context.Context) error {
		if err := transport.Connect(ctx, core.ChannelPublic); err != nil {
			return err
		}
		if cfg.Stream.PrivateURL != "" {
			if err := transport.Connect(ctx, core.ChannelPrivate); err != nil {
				return err
			}
		}
		engine.Start(ctx)

		<-ctx.Done()
		engine.Stop()
		transport.Stop()
		return nil
	}))

	runErr := app.Run(runners...)

	summary := engine.PortfolioSummary()
	logger.Info("Final portfolio",
		"balance", summary.Balance.String(),
		"equity", summary.Equity.String(),
		"realized_pnl", summary.RealizedPnL.String(),
		"trades", summary.TotalTrades)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)

	if runErr != nil {
		os.Exit(1)
	}
}
