// Package paper simulates order execution against live market prices
// without touching a real exchange account.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"papertrader/internal/core"
	"papertrader/internal/events"
	apperrors "papertrader/pkg/errors"
	"papertrader/pkg/telemetry"
	"papertrader/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config tunes the simulated account.
type Config struct {
	InitialBalance   decimal.Decimal
	CommissionRate   decimal.Decimal
	SizingFraction   decimal.Decimal
	QuantityDecimals int
	MinQuantity      decimal.Decimal
	LimitPollInterval time.Duration
}

// DefaultConfig returns the standard simulation parameters: 10k starting
// balance, 6 bps taker commission, 10% of balance per trade, quantities
// floored to 3 decimals with a 0.001 minimum.
func DefaultConfig() Config {
	return Config{
		InitialBalance:    decimal.NewFromInt(10000),
		CommissionRate:    decimal.NewFromFloat(0.0006),
		SizingFraction:    decimal.NewFromFloat(0.10),
		QuantityDecimals:  3,
		MinQuantity:       decimal.NewFromFloat(0.001),
		LimitPollInterval: 100 * time.Millisecond,
	}
}

// Engine is the paper trading account. All mutation goes through the
// engine mutex, so a tick is fully resolved before the next one for the
// same symbol starts. Event publication happens after the mutation is
// applied, outside no lock but in mutation order.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	balance     decimal.Decimal
	realizedPnL decimal.Decimal
	positions   map[string]*core.Position
	orders      map[string]*core.Order
	trades      []core.Trade
	marks       map[string]decimal.Decimal

	bus    *events.Bus
	gate   core.IRiskGate
	alerts core.IAlertSink
	logger core.ILogger

	now func() time.Time

	pollStop chan struct{}
	pollWG   sync.WaitGroup
}

// NewEngine creates a paper account. The risk gate and alert sink are
// optional; a nil gate approves everything. Zero-valued config fields
// fall back to their defaults independently.
func NewEngine(cfg Config, bus *events.Bus, gate core.IRiskGate, alerts core.IAlertSink, logger core.ILogger) *Engine {
	def := DefaultConfig()
	if cfg.InitialBalance.IsZero() {
		cfg.InitialBalance = def.InitialBalance
	}
	if cfg.CommissionRate.IsZero() {
		cfg.CommissionRate = def.CommissionRate
	}
	if cfg.SizingFraction.IsZero() {
		cfg.SizingFraction = def.SizingFraction
	}
	if cfg.QuantityDecimals <= 0 {
		cfg.QuantityDecimals = def.QuantityDecimals
	}
	if cfg.MinQuantity.IsZero() {
		cfg.MinQuantity = def.MinQuantity
	}
	if cfg.LimitPollInterval <= 0 {
		cfg.LimitPollInterval = def.LimitPollInterval
	}
	return &Engine{
		cfg:       cfg,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*core.Position),
		orders:    make(map[string]*core.Order),
		marks:     make(map[string]decimal.Decimal),
		bus:       bus,
		gate:      gate,
		alerts:    alerts,
		logger:    logger.WithField("component", "paper_engine"),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Start launches the limit order poller. It runs until ctx is cancelled
// or Stop is called; open limit orders survive shutdown un-cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.pollStop != nil {
		e.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	e.pollStop = stop
	e.mu.Unlock()

	e.pollWG.Add(1)
	go func() {
		defer e.pollWG.Done()
		interval := e.cfg.LimitPollInterval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				e.pollLimitOrders()
			}
		}
	}()
}

// Stop halts the limit poller. In-flight fills complete first.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.pollStop
	e.pollStop = nil
	e.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	e.pollWG.Wait()
}

// UpdateMark records the latest traded price and refreshes the symbol's
// position mark and unrealized PnL.
func (e *Engine) UpdateMark(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	e.marks[symbol] = price

	var posCopy *core.Position
	if pos, ok := e.positions[symbol]; ok {
		pos.MarkPrice = price
		pos.UnrealizedPnL = unrealized(pos, price)
		c := *pos
		posCopy = &c
	}
	equity := e.equityLocked()
	e.mu.Unlock()

	telemetry.GetGlobalMetrics().SetEquity(equity.InexactFloat64())
	if posCopy != nil {
		e.bus.PublishPosition(*posCopy)
	}
}

// Mark returns the last recorded price for a symbol.
func (e *Engine) Mark(symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.marks[symbol]
	return p, ok
}

// CreateOrder places a simulated order. Market orders execute
// synchronously against the current mark; limit orders rest until the
// poller crosses them. The returned order is a snapshot.
func (e *Engine) CreateOrder(symbol string, side core.Side, kind core.OrderKind, qty, limitPrice decimal.Decimal) (core.Order, error) {
	if !qty.IsPositive() {
		return core.Order{}, apperrors.ErrQuantityTooSmall
	}
	if kind == core.OrderKindLimit && !limitPrice.IsPositive() {
		return core.Order{}, fmt.Errorf("limit order requires a positive limit price")
	}

	order := &core.Order{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		Kind:       kind,
		Quantity:   qty,
		LimitPrice: limitPrice,
		Status:     core.OrderStatusNew,
		CreatedAt:  e.nowSafe(),
	}

	e.mu.Lock()
	if kind == core.OrderKindMarket {
		price, ok := e.marks[symbol]
		if !ok {
			e.mu.Unlock()
			return core.Order{}, apperrors.ErrNoPrice
		}
		e.orders[order.ID] = order
		outcome := e.fillLocked(order, price)
		e.mu.Unlock()

		telemetry.GetGlobalMetrics().IncrementOrdersCreated(string(kind))
		e.publishFill(outcome)
		return outcome.order, nil
	}

	e.orders[order.ID] = order
	snapshot := *order
	e.mu.Unlock()

	telemetry.GetGlobalMetrics().IncrementOrdersCreated(string(kind))
	e.bus.PublishOrder(snapshot)
	e.logger.Info("Limit order resting",
		"order_id", order.ID, "symbol", symbol, "side", string(side),
		"qty", qty.String(), "limit", limitPrice.String())
	return snapshot, nil
}

// CancelOrder cancels a resting order. Returns false when the order does
// not exist or is already terminal.
func (e *Engine) CancelOrder(id string) bool {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || order.Status.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	order.Status = core.OrderStatusCancelled
	snapshot := *order
	e.mu.Unlock()

	e.bus.PublishOrder(snapshot)
	e.logger.Info("Order cancelled", "order_id", id)
	return true
}

// GetOrder returns a snapshot of an order.
func (e *Engine) GetOrder(id string) (core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return core.Order{}, apperrors.ErrOrderNotFound
	}
	return *order, nil
}

// OpenOrders returns snapshots of all non-terminal orders.
func (e *Engine) OpenOrders() []core.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []core.Order
	for _, o := range e.orders {
		if !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// Positions returns snapshots of all open positions.
func (e *Engine) Positions() []core.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionsLocked()
}

func (e *Engine) positionsLocked() []core.Position {
	out := make([]core.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// Position returns the open position for a symbol, if any.
func (e *Engine) Position(symbol string) (core.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return core.Position{}, false
	}
	return *p, true
}

// Balance returns the current cash balance.
func (e *Engine) Balance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Trades returns a copy of the trade log, oldest first.
func (e *Engine) Trades() []core.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// PortfolioSummary returns a point-in-time account view.
func (e *Engine) PortfolioSummary() core.PortfolioSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	var unrealizedTotal decimal.Decimal
	for _, p := range e.positions {
		unrealizedTotal = unrealizedTotal.Add(p.UnrealizedPnL)
	}
	openOrders := 0
	for _, o := range e.orders {
		if !o.Status.IsTerminal() {
			openOrders++
		}
	}

	return core.PortfolioSummary{
		Balance:       e.balance,
		Equity:        e.balance.Add(unrealizedTotal),
		UnrealizedPnL: unrealizedTotal,
		RealizedPnL:   e.realizedPnL,
		OpenOrders:    openOrders,
		OpenPositions: len(e.positions),
		TotalTrades:   len(e.trades),
	}
}

// HandleSignal sizes and places a market order for an accepted signal.
// The risk gate runs first; a rejection raises an alert and stops the
// flow. Implements core.SignalHandler.
func (e *Engine) HandleSignal(sig core.Signal) {
	if sig.Direction == core.DirectionHold {
		return
	}

	e.mu.Lock()
	balance := e.balance
	positions := e.positionsLocked()
	price, hasPrice := e.marks[sig.Symbol]
	e.mu.Unlock()

	if !hasPrice {
		price = sig.Price
	}
	if !price.IsPositive() {
		e.logger.Warn("Signal skipped, no price available", "symbol", sig.Symbol)
		e.notifyAlert("no_price", map[string]string{
			"symbol":   sig.Symbol,
			"strategy": sig.Strategy,
		})
		return
	}

	if e.gate != nil {
		market := core.MarketPayload{Price: price}
		if sig.Indicators.ATR != nil {
			market.ATR = *sig.Indicators.ATR
		}
		if sig.Indicators.RSI != nil {
			market.RSI = *sig.Indicators.RSI
		}

		decision := e.gate.Validate(sig, balance, positions, market)
		if !decision.Approved {
			e.logger.Warn("Signal rejected by risk gate",
				"symbol", sig.Symbol, "strategy", sig.Strategy, "reason", decision.Reason)
			e.notifyAlert("risk_rejected", map[string]string{
				"symbol":   sig.Symbol,
				"strategy": sig.Strategy,
				"reason":   decision.Reason,
			})
			e.bus.PublishState(core.StateEvent{
				Type: "risk_rejected",
				Fields: map[string]string{
					"symbol": sig.Symbol,
					"reason": decision.Reason,
				},
				Timestamp: e.nowSafe(),
			})
			return
		}
	}

	qty := tradingutils.FloorQuantity(
		balance.Mul(e.cfg.SizingFraction).Div(price),
		e.cfg.QuantityDecimals,
	)
	if qty.LessThan(e.cfg.MinQuantity) {
		e.logger.Warn("Signal skipped, sized quantity below minimum",
			"symbol", sig.Symbol, "qty", qty.String())
		e.notifyAlert("quantity_too_small", map[string]string{
			"symbol": sig.Symbol,
			"qty":    qty.String(),
		})
		return
	}

	side := core.SideBuy
	if sig.Direction == core.DirectionSell {
		side = core.SideSell
	}

	if _, err := e.CreateOrder(sig.Symbol, side, core.OrderKindMarket, qty, decimal.Zero); err != nil {
		e.logger.Error("Signal order failed",
			"symbol", sig.Symbol, "strategy", sig.Strategy, "error", err)
		kind := "order_failed"
		if errors.Is(err, apperrors.ErrNoPrice) {
			kind = "no_price"
		}
		e.notifyAlert(kind, map[string]string{
			"symbol":   sig.Symbol,
			"strategy": sig.Strategy,
			"error":    err.Error(),
		})
		e.bus.PublishState(core.StateEvent{
			Type: kind,
			Fields: map[string]string{
				"symbol": sig.Symbol,
				"error":  err.Error(),
			},
			Timestamp: e.nowSafe(),
		})
	}
}

// pollLimitOrders fills resting limit orders whose limit the mark has
// crossed. Fills execute at the current mark, not the limit price.
func (e *Engine) pollLimitOrders() {
	e.mu.Lock()
	var outcomes []fillOutcome
	for _, order := range e.orders {
		if order.Kind != core.OrderKindLimit || order.Status.IsTerminal() {
			continue
		}
		mark, ok := e.marks[order.Symbol]
		if !ok {
			continue
		}
		crossed := (order.Side == core.SideBuy && mark.LessThanOrEqual(order.LimitPrice)) ||
			(order.Side == core.SideSell && mark.GreaterThanOrEqual(order.LimitPrice))
		if crossed {
			outcomes = append(outcomes, e.fillLocked(order, mark))
		}
	}
	e.mu.Unlock()

	for _, outcome := range outcomes {
		e.publishFill(outcome)
	}
}

func (e *Engine) nowSafe() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

func (e *Engine) notifyAlert(kind string, fields map[string]string) {
	if e.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.alerts.Notify(ctx, kind, fields)
}

func (e *Engine) equityLocked() decimal.Decimal {
	eq := e.balance
	for _, p := range e.positions {
		eq = eq.Add(p.UnrealizedPnL)
	}
	return eq
}
