package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction is a strategy suggestion. Unlike Side it includes Hold.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// OrderKind distinguishes immediate from resting orders.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// OrderStatus is the lifecycle state of an Order. Filled and Cancelled are
// terminal.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order is a simulated order. It is mutated only by the execution routine
// and becomes immutable once terminal.
type Order struct {
	ID           string
	Symbol       string
	Side         Side
	Kind         OrderKind
	Quantity     decimal.Decimal
	LimitPrice   decimal.Decimal // zero for market orders
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Status       OrderStatus
	CreatedAt    time.Time
	FilledAt     time.Time
}

// Trade is an immutable fill record. The trade log is append-only.
type Trade struct {
	ID         string
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
}

// Position is the net exposure for a symbol. At most one exists per symbol;
// it is deleted when size reaches exactly zero.
type Position struct {
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal // volume-weighted
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal // cumulative over the position's lifetime
	Leverage      int
}

// BollingerBands holds the 20-period band values.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// IndicatorSnapshot is a fixed set of derived indicators. A field is nil
// until enough history exists to compute it.
type IndicatorSnapshot struct {
	RSI   *float64
	EMA20 *float64
	EMA50 *float64
	ATR   *float64
	Bands *BollingerBands
}

// Empty reports whether no indicator has been derived yet.
func (s IndicatorSnapshot) Empty() bool {
	return s.RSI == nil && s.EMA20 == nil && s.EMA50 == nil && s.ATR == nil && s.Bands == nil
}

// Signal is a directional trading suggestion produced by a strategy
// evaluator. It is an immutable value consumed exactly once by the
// order-creation path.
type Signal struct {
	Symbol     string
	Direction  Direction
	Confidence float64 // [0,1]
	Strategy   string
	Price      decimal.Decimal
	Indicators IndicatorSnapshot
	Timestamp  time.Time
}

// PortfolioSummary is a point-in-time view of account state.
type PortfolioSummary struct {
	Balance       decimal.Decimal
	Equity        decimal.Decimal // balance + sum of unrealized PnL
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	OpenOrders    int
	OpenPositions int
	TotalTrades   int
}

// StateEvent is an out-of-band notification for external observers
// (risk rejections, transport state changes, lifecycle transitions).
type StateEvent struct {
	Type      string
	Fields    map[string]string
	Timestamp time.Time
}
