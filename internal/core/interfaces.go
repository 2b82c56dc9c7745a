// Package core defines the shared domain types and interfaces for the
// paper trading system.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChannelKind identifies a logical stream connection.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
)

// IStreamTransport maintains the public and private subscription channels.
type IStreamTransport interface {
	Connect(ctx context.Context, kind ChannelKind) error
	Subscribe(ctx context.Context, kind ChannelKind, topic string) error
	OnMessage(prefix string, handler MessageHandler)
	IsConnected(kind ChannelKind) bool
	Stop()
}

// MessageHandler receives a decoded frame for a subscribed topic prefix.
// A panicking handler is recovered and logged; it never interrupts
// dispatch of other handlers or later frames.
type MessageHandler func(topic string, data []byte)

// MarketPayload carries the market context handed to the risk gate.
type MarketPayload struct {
	Price  decimal.Decimal
	ATR    float64
	Volume float64
	RSI    float64
}

// RiskDecision is the outcome of a risk gate check.
type RiskDecision struct {
	Approved bool
	Reason   string
}

// IRiskGate approves or rejects a candidate trade before it becomes an
// order. Implementations must be synchronous and side-effect free with
// respect to engine state.
type IRiskGate interface {
	Validate(signal Signal, balance decimal.Decimal, positions []Position, market MarketPayload) RiskDecision
}

// IAlertSink receives best-effort operational notifications. Failures are
// swallowed by implementations, never surfaced to the trading path.
type IAlertSink interface {
	Notify(ctx context.Context, kind string, fields map[string]string)
}

// Typed event handlers. Each event kind has its own capability so
// subscribers only receive what they registered for; payloads are copies,
// observers must not reach back into engine state.

type OrderHandler interface {
	HandleOrder(order Order)
}

type TradeHandler interface {
	HandleTrade(trade Trade)
}

type PositionHandler interface {
	HandlePosition(position Position)
}

type BalanceHandler interface {
	HandleBalance(balance decimal.Decimal)
}

type SignalHandler interface {
	HandleSignal(signal Signal)
}

type StateHandler interface {
	HandleState(event StateEvent)
}

// ILogger is the logging interface used across all components.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
