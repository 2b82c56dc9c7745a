// Package risk provides the reference risk gate for the paper trading
// engine: static account limits plus a PnL circuit breaker.
package risk

import (
	"fmt"

	"papertrader/internal/core"

	"github.com/shopspring/decimal"
)

// GateConfig sets the static account limits. Zero-valued limits are
// disabled.
type GateConfig struct {
	MaxPositionValue decimal.Decimal // notional cap for a single new entry
	MaxOpenPositions int
	MinBalance       decimal.Decimal
}

// BasicGate implements core.IRiskGate with static limits and an optional
// circuit breaker. Validate is synchronous and touches no engine state.
type BasicGate struct {
	cfg     GateConfig
	breaker *CircuitBreaker
	logger  core.ILogger
}

// NewBasicGate creates a gate. The breaker may be nil.
func NewBasicGate(cfg GateConfig, breaker *CircuitBreaker, logger core.ILogger) *BasicGate {
	return &BasicGate{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger.WithField("component", "risk_gate"),
	}
}

// Breaker exposes the gate's circuit breaker so the engine's trade
// stream can feed realized PnL into it.
func (g *BasicGate) Breaker() *CircuitBreaker {
	return g.breaker
}

// Validate approves or rejects a candidate entry.
func (g *BasicGate) Validate(sig core.Signal, balance decimal.Decimal, positions []core.Position, market core.MarketPayload) core.RiskDecision {
	if g.breaker != nil && g.breaker.IsTripped() {
		return reject("circuit breaker open: " + g.breaker.GetStatus().Reason)
	}

	if !g.cfg.MinBalance.IsZero() && balance.LessThan(g.cfg.MinBalance) {
		return reject(fmt.Sprintf("balance %s below minimum %s", balance, g.cfg.MinBalance))
	}

	if g.cfg.MaxOpenPositions > 0 {
		holdsSymbol := false
		for _, p := range positions {
			if p.Symbol == sig.Symbol {
				holdsSymbol = true
				break
			}
		}
		// Adding to an existing position does not open a new slot.
		if !holdsSymbol && len(positions) >= g.cfg.MaxOpenPositions {
			return reject(fmt.Sprintf("open positions at limit %d", g.cfg.MaxOpenPositions))
		}
	}

	if !g.cfg.MaxPositionValue.IsZero() && market.Price.IsPositive() {
		// The engine sizes entries at a fixed balance fraction; bound the
		// resulting notional.
		notional := balance.Mul(decimal.NewFromFloat(0.10))
		if notional.GreaterThan(g.cfg.MaxPositionValue) {
			return reject(fmt.Sprintf("entry notional %s exceeds cap %s", notional, g.cfg.MaxPositionValue))
		}
	}

	return core.RiskDecision{Approved: true}
}

// HandleState feeds realized-PnL state events into the breaker.
// Implements core.StateHandler so the gate subscribes to the engine's
// event stream directly.
func (g *BasicGate) HandleState(ev core.StateEvent) {
	if ev.Type != "pnl_realized" || g.breaker == nil {
		return
	}
	pnl, err := decimal.NewFromString(ev.Fields["pnl"])
	if err != nil {
		g.logger.Warn("Unparseable realized PnL event", "value", ev.Fields["pnl"])
		return
	}
	g.breaker.RecordTrade(pnl)
}

// RecordRealized folds a realized PnL figure into the breaker.
func (g *BasicGate) RecordRealized(pnl decimal.Decimal) {
	if g.breaker != nil {
		g.breaker.RecordTrade(pnl)
	}
}

func reject(reason string) core.RiskDecision {
	return core.RiskDecision{Approved: false, Reason: reason}
}
