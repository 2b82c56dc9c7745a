package paper

import (
	"fmt"

	"papertrader/internal/core"
	"papertrader/pkg/telemetry"
	"papertrader/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fillOutcome captures everything a fill changed, so events can be
// published after the engine lock is released, in mutation order.
type fillOutcome struct {
	order    core.Order
	trade    core.Trade
	position *core.Position // nil when the fill closed the position exactly
	closed   *core.Position // zero-size terminal snapshot carrying the final realized figure
	balance  decimal.Decimal
	realized decimal.Decimal // realized PnL of this fill alone
}

// fillLocked executes an order in full at the given price. The caller
// holds the engine lock. Filling a terminal order is an invariant
// violation and panics.
func (e *Engine) fillLocked(order *core.Order, price decimal.Decimal) fillOutcome {
	if order.Status.IsTerminal() {
		panic(fmt.Sprintf("fill on terminal order %s (status %s)", order.ID, order.Status))
	}

	now := e.now()
	commission := tradingutils.Commission(order.Quantity, price, e.cfg.CommissionRate)

	trade := core.Trade{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: commission,
		Timestamp:  now,
	}

	var prior *core.Position
	if p, ok := e.positions[order.Symbol]; ok {
		c := *p
		prior = &c
	}

	e.balance = e.balance.Sub(commission)
	realized := e.applyToPosition(order.Symbol, order.Side, order.Quantity, price)

	order.FilledQty = order.Quantity
	order.AvgFillPrice = price
	order.Status = core.OrderStatusFilled
	order.FilledAt = now

	e.trades = append(e.trades, trade)

	outcome := fillOutcome{
		order:    *order,
		trade:    trade,
		balance:  e.balance,
		realized: realized,
	}
	if pos, ok := e.positions[order.Symbol]; ok {
		c := *pos
		outcome.position = &c
	} else {
		// Exact close: publish a terminal snapshot keeping the entry and
		// the final realized figure so observers see what the round trip
		// made.
		closed := core.Position{Symbol: order.Symbol, Side: order.Side.Opposite(), MarkPrice: price}
		if prior != nil {
			closed.Side = prior.Side
			closed.EntryPrice = prior.EntryPrice
			closed.RealizedPnL = prior.RealizedPnL.Add(realized)
		}
		outcome.closed = &closed
	}
	return outcome
}

// applyToPosition folds a fill into the symbol's position and returns the
// realized PnL of the fill. Same-side fills re-average the entry;
// opposite-side fills realize PnL on the overlap, and any excess reverses
// into a fresh position at the fill price.
func (e *Engine) applyToPosition(symbol string, side core.Side, qty, price decimal.Decimal) decimal.Decimal {
	pos, ok := e.positions[symbol]
	if !ok {
		e.positions[symbol] = &core.Position{
			Symbol:     symbol,
			Side:       side,
			Size:       qty,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   1,
		}
		return decimal.Zero
	}

	if pos.Side == side {
		pos.EntryPrice = tradingutils.WeightedAverage(pos.EntryPrice, pos.Size, price, qty)
		pos.Size = pos.Size.Add(qty)
		pos.MarkPrice = price
		pos.UnrealizedPnL = unrealized(pos, price)
		return decimal.Zero
	}

	overlap := decimal.Min(pos.Size, qty)
	pnl := price.Sub(pos.EntryPrice).Mul(overlap)
	if pos.Side == core.SideSell {
		pnl = pnl.Neg()
	}

	e.balance = e.balance.Add(pnl)
	e.realizedPnL = e.realizedPnL.Add(pnl)
	telemetry.GetGlobalMetrics().AddRealizedPnL(pnl.InexactFloat64())

	switch {
	case qty.Equal(pos.Size):
		delete(e.positions, symbol)
	case qty.LessThan(pos.Size):
		pos.Size = pos.Size.Sub(qty)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.MarkPrice = price
		pos.UnrealizedPnL = unrealized(pos, price)
	default:
		// Excess reverses into a new position at the fill price.
		e.positions[symbol] = &core.Position{
			Symbol:     symbol,
			Side:       side,
			Size:       qty.Sub(pos.Size),
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   1,
		}
	}
	return pnl
}

// unrealized computes mark-to-market PnL for a position.
func unrealized(pos *core.Position, mark decimal.Decimal) decimal.Decimal {
	pnl := mark.Sub(pos.EntryPrice).Mul(pos.Size)
	if pos.Side == core.SideSell {
		pnl = pnl.Neg()
	}
	return pnl
}

// publishFill emits the events for a completed fill: order first, then
// trade, then position, then balance.
func (e *Engine) publishFill(outcome fillOutcome) {
	telemetry.GetGlobalMetrics().IncrementOrdersFilled(string(outcome.order.Kind))
	telemetry.GetGlobalMetrics().ObserveFillLatency(
		outcome.order.FilledAt.Sub(outcome.order.CreatedAt).Seconds())
	telemetry.GetGlobalMetrics().SetBalance(outcome.balance.InexactFloat64())

	e.bus.PublishOrder(outcome.order)
	e.bus.PublishTrade(outcome.trade)

	if outcome.position != nil {
		telemetry.GetGlobalMetrics().SetPositionSize(
			outcome.position.Symbol, outcome.position.Size.InexactFloat64())
		e.bus.PublishPosition(*outcome.position)
	} else if outcome.closed != nil {
		telemetry.GetGlobalMetrics().SetPositionSize(outcome.closed.Symbol, 0)
		e.bus.PublishPosition(*outcome.closed)
	}

	e.bus.PublishBalance(outcome.balance)

	if !outcome.realized.IsZero() {
		e.bus.PublishState(core.StateEvent{
			Type: "pnl_realized",
			Fields: map[string]string{
				"symbol": outcome.order.Symbol,
				"pnl":    outcome.realized.String(),
			},
			Timestamp: outcome.order.FilledAt,
		})
	}

	e.logger.Info("Order filled",
		"order_id", outcome.order.ID,
		"symbol", outcome.order.Symbol,
		"side", string(outcome.order.Side),
		"qty", outcome.order.FilledQty.String(),
		"price", outcome.trade.Price.String(),
		"commission", outcome.trade.Commission.String(),
		"realized_pnl", outcome.realized.String(),
		"balance", outcome.balance.String())
}
