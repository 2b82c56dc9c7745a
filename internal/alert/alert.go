// Package alert fans best-effort operational notifications out to
// configured channels. Delivery never blocks the trading path and
// failures are logged, not surfaced.
package alert

import (
	"context"
	"sync"
	"time"

	"papertrader/internal/core"
	"papertrader/pkg/concurrency"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager dispatches alerts through a bounded worker pool so a slow
// channel cannot pile up goroutines. Implements core.IAlertSink.
type AlertManager struct {
	channels []AlertChannel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  4,
		MaxCapacity: 256,
		NonBlocking: true,
	}, logger)

	return &AlertManager{
		channels: make([]AlertChannel, 0),
		pool:     pool,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Stop drains the delivery pool.
func (am *AlertManager) Stop() {
	am.pool.Stop()
}

func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.mu.RLock()
	channels := make([]AlertChannel, len(am.channels))
	copy(channels, am.channels)
	am.mu.RUnlock()

	for _, ch := range channels {
		c := ch
		err := am.pool.Submit(func() {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		})
		if err != nil {
			am.logger.Warn("Alert dropped, delivery pool full",
				"channel", c.Name(), "title", title)
		}
	}
}

// Notify implements core.IAlertSink. Event kinds map onto alert levels.
func (am *AlertManager) Notify(ctx context.Context, kind string, fields map[string]string) {
	level := Info
	switch kind {
	case "risk_rejected", "quantity_too_small", "no_price", "order_failed":
		level = Warning
	case "stream_disconnected", "circuit_breaker":
		level = Error
	}
	am.Alert(ctx, kind, "", level, fields)
}
