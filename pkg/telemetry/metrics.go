package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricTicksTotal           = "papertrader_ticks_total"
	MetricSignalsGeneratedTotal = "papertrader_signals_generated_total"
	MetricSignalsAcceptedTotal  = "papertrader_signals_accepted_total"
	MetricSignalsRejectedTotal  = "papertrader_signals_rejected_total"
	MetricOrdersCreatedTotal    = "papertrader_orders_created_total"
	MetricOrdersFilledTotal     = "papertrader_orders_filled_total"
	MetricPnLRealizedTotal      = "papertrader_pnl_realized_total"
	MetricBalance               = "papertrader_balance"
	MetricEquity                = "papertrader_equity"
	MetricPositionSize          = "papertrader_position_size"
	MetricFillLatency           = "papertrader_fill_latency_seconds"
	MetricStreamConnected       = "papertrader_stream_connected"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	TicksTotal            metric.Int64Counter
	SignalsGeneratedTotal metric.Int64Counter
	SignalsAcceptedTotal  metric.Int64Counter
	SignalsRejectedTotal  metric.Int64Counter
	OrdersCreatedTotal    metric.Int64Counter
	OrdersFilledTotal     metric.Int64Counter
	PnLRealizedTotal      metric.Float64Counter
	Balance               metric.Float64ObservableGauge
	Equity                metric.Float64ObservableGauge
	PositionSize          metric.Float64ObservableGauge
	FillLatency           metric.Float64Histogram
	StreamConnected       metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	balance         float64
	equity          float64
	positionSizeMap map[string]float64
	streamStateMap  map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionSizeMap: make(map[string]float64),
			streamStateMap:  make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.TicksTotal, err = meter.Int64Counter(MetricTicksTotal,
		metric.WithDescription("Price/volume ticks processed")); err != nil {
		return err
	}
	if m.SignalsGeneratedTotal, err = meter.Int64Counter(MetricSignalsGeneratedTotal,
		metric.WithDescription("Candidate signals produced by strategies")); err != nil {
		return err
	}
	if m.SignalsAcceptedTotal, err = meter.Int64Counter(MetricSignalsAcceptedTotal,
		metric.WithDescription("Signals accepted by the validator")); err != nil {
		return err
	}
	if m.SignalsRejectedTotal, err = meter.Int64Counter(MetricSignalsRejectedTotal,
		metric.WithDescription("Signals rejected by the validator")); err != nil {
		return err
	}
	if m.OrdersCreatedTotal, err = meter.Int64Counter(MetricOrdersCreatedTotal,
		metric.WithDescription("Simulated orders created")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Simulated orders filled")); err != nil {
		return err
	}
	if m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal,
		metric.WithDescription("Cumulative realized profit/loss")); err != nil {
		return err
	}
	if m.FillLatency, err = meter.Float64Histogram(MetricFillLatency,
		metric.WithDescription("Time from order creation to fill"),
		metric.WithUnit("s")); err != nil {
		return err
	}

	if m.Balance, err = meter.Float64ObservableGauge(MetricBalance,
		metric.WithDescription("Current cash balance"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.balance)
			return nil
		})); err != nil {
		return err
	}

	if m.Equity, err = meter.Float64ObservableGauge(MetricEquity,
		metric.WithDescription("Balance plus unrealized PnL across positions"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.equity)
			return nil
		})); err != nil {
		return err
	}

	if m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize,
		metric.WithDescription("Current position size per symbol"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		})); err != nil {
		return err
	}

	if m.StreamConnected, err = meter.Int64ObservableGauge(MetricStreamConnected,
		metric.WithDescription("Stream channel connected state (1=connected)"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ch, val := range m.streamStateMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("channel", ch)))
			}
			return nil
		})); err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state.

func (m *MetricsHolder) SetBalance(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = value
}

func (m *MetricsHolder) SetEquity(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = value
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) SetStreamConnected(channel string, connected bool) {
	val := int64(0)
	if connected {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamStateMap[channel] = val
}

// Counter helpers. Safe to call before InitMetrics; recording is skipped
// until instruments exist.

func (m *MetricsHolder) IncrementTicks() {
	if m.TicksTotal != nil {
		m.TicksTotal.Add(context.Background(), 1)
	}
}

func (m *MetricsHolder) IncrementSignalsGenerated(strategy string) {
	if m.SignalsGeneratedTotal != nil {
		m.SignalsGeneratedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("strategy", strategy)))
	}
}

func (m *MetricsHolder) IncrementSignalsAccepted(strategy string) {
	if m.SignalsAcceptedTotal != nil {
		m.SignalsAcceptedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("strategy", strategy)))
	}
}

func (m *MetricsHolder) IncrementSignalsRejected(reason string) {
	if m.SignalsRejectedTotal != nil {
		m.SignalsRejectedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *MetricsHolder) IncrementOrdersCreated(kind string) {
	if m.OrdersCreatedTotal != nil {
		m.OrdersCreatedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *MetricsHolder) IncrementOrdersFilled(kind string) {
	if m.OrdersFilledTotal != nil {
		m.OrdersFilledTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *MetricsHolder) AddRealizedPnL(value float64) {
	if m.PnLRealizedTotal != nil {
		m.PnLRealizedTotal.Add(context.Background(), value)
	}
}

func (m *MetricsHolder) ObserveFillLatency(seconds float64) {
	if m.FillLatency != nil {
		m.FillLatency.Record(context.Background(), seconds)
	}
}
