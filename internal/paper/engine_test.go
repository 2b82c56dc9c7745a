package paper

import (
	"context"
	"testing"
	"time"

	"papertrader/internal/core"
	"papertrader/internal/events"
	apperrors "papertrader/pkg/errors"
	"papertrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type recorder struct {
	orders    []core.Order
	trades    []core.Trade
	positions []core.Position
	balances  []decimal.Decimal
	states    []core.StateEvent
	sequence  []string
}

func (r *recorder) HandleOrder(o core.Order) {
	r.orders = append(r.orders, o)
	r.sequence = append(r.sequence, "order")
}
func (r *recorder) HandleTrade(tr core.Trade) {
	r.trades = append(r.trades, tr)
	r.sequence = append(r.sequence, "trade")
}
func (r *recorder) HandlePosition(p core.Position) {
	r.positions = append(r.positions, p)
	r.sequence = append(r.sequence, "position")
}
func (r *recorder) HandleBalance(b decimal.Decimal) {
	r.balances = append(r.balances, b)
	r.sequence = append(r.sequence, "balance")
}
func (r *recorder) HandleState(ev core.StateEvent) {
	r.states = append(r.states, ev)
	r.sequence = append(r.sequence, "state")
}

func newTestEngine(t *testing.T, gate core.IRiskGate) (*Engine, *recorder) {
	t.Helper()
	bus := events.NewBus(logging.NewNop())
	rec := &recorder{}
	bus.SubscribeOrders(rec)
	bus.SubscribeTrades(rec)
	bus.SubscribePositions(rec)
	bus.SubscribeBalance(rec)
	bus.SubscribeState(rec)

	e := NewEngine(DefaultConfig(), bus, gate, nil, logging.NewNop())
	return e, rec
}

func TestMarketOrder_CommissionAndBalance(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	order, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.02"), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, core.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(d("0.02")))
	assert.True(t, order.AvgFillPrice.Equal(d("50000")))

	// commission = 0.02 * 50000 * 0.0006 = 0.6
	assert.True(t, e.Balance().Equal(d("9999.4")), "balance %s", e.Balance())

	pos, ok := e.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.SideBuy, pos.Side)
	assert.True(t, pos.Size.Equal(d("0.02")))
	assert.True(t, pos.EntryPrice.Equal(d("50000")))

	require.Len(t, rec.trades, 1)
	assert.True(t, rec.trades[0].Commission.Equal(d("0.6")))
}

func TestMarketOrder_EventOrdering(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.02"), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, []string{"order", "trade", "position", "balance"}, rec.sequence)
	// Observers see the order already terminal.
	assert.Equal(t, core.OrderStatusFilled, rec.orders[0].Status)
}

func TestMarketOrder_NoPrice(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.02"), decimal.Zero)
	assert.ErrorIs(t, err, apperrors.ErrNoPrice)
	assert.True(t, e.Balance().Equal(d("10000")), "failed order must not touch the balance")
	assert.Empty(t, e.Trades())
}

func TestExactClose_RealizesPnL(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.02"), decimal.Zero)
	require.NoError(t, err)

	e.UpdateMark("BTCUSDT", d("51000"))
	_, err = e.CreateOrder("BTCUSDT", core.SideSell, core.OrderKindMarket, d("0.02"), decimal.Zero)
	require.NoError(t, err)

	// pnl = (51000-50000)*0.02 = 20; commissions 0.6 and 0.612.
	assert.True(t, e.Balance().Equal(d("10018.788")), "balance %s", e.Balance())

	summary := e.PortfolioSummary()
	assert.True(t, summary.RealizedPnL.Equal(d("20")))
	assert.Equal(t, 0, summary.OpenPositions, "exact close deletes the position")
	assert.Equal(t, 2, summary.TotalTrades)

	_, ok := e.Position("BTCUSDT")
	assert.False(t, ok)

	// The terminal position event carries the round trip's history.
	require.NotEmpty(t, rec.positions)
	closed := rec.positions[len(rec.positions)-1]
	assert.True(t, closed.Size.IsZero())
	assert.Equal(t, core.SideBuy, closed.Side)
	assert.True(t, closed.EntryPrice.Equal(d("50000")))
	assert.True(t, closed.RealizedPnL.Equal(d("20")), "realized %s", closed.RealizedPnL)
}

func TestNewEngine_DefaultsFieldsIndependently(t *testing.T) {
	bus := events.NewBus(logging.NewNop())

	e := NewEngine(Config{LimitPollInterval: 5 * time.Millisecond}, bus, nil, nil, logging.NewNop())

	assert.True(t, e.cfg.InitialBalance.Equal(d("10000")))
	assert.True(t, e.cfg.CommissionRate.Equal(d("0.0006")))
	assert.True(t, e.cfg.SizingFraction.Equal(d("0.1")))
	assert.Equal(t, 3, e.cfg.QuantityDecimals)
	assert.True(t, e.cfg.MinQuantity.Equal(d("0.001")))
	assert.Equal(t, 5*time.Millisecond, e.cfg.LimitPollInterval,
		"caller's poll interval survives defaulting of the other fields")
}

func TestShortPosition_PnLSignFlipped(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	_, err := e.CreateOrder("BTCUSDT", core.SideSell, core.OrderKindMarket, d("0.01"), decimal.Zero)
	require.NoError(t, err)

	e.UpdateMark("BTCUSDT", d("49000"))
	_, err = e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.01"), decimal.Zero)
	require.NoError(t, err)

	// Short profits from the drop: pnl = (50000-49000)*0.01 = 10.
	assert.True(t, e.PortfolioSummary().RealizedPnL.Equal(d("10")))
}

func TestSameSideFill_ReaveragesEntry(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))
	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.01"), decimal.Zero)
	require.NoError(t, err)

	e.UpdateMark("BTCUSDT", d("52000"))
	_, err = e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.03"), decimal.Zero)
	require.NoError(t, err)

	pos, ok := e.Position("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.04")))
	// (50000*0.01 + 52000*0.03) / 0.04 = 51500
	assert.True(t, pos.EntryPrice.Equal(d("51500")), "entry %s", pos.EntryPrice)
	assert.True(t, e.PortfolioSummary().RealizedPnL.IsZero(), "same-side fills realize nothing")
}

func TestPartialReduce_KeepsEntry(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))
	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.04"), decimal.Zero)
	require.NoError(t, err)

	e.UpdateMark("BTCUSDT", d("51000"))
	_, err = e.CreateOrder("BTCUSDT", core.SideSell, core.OrderKindMarket, d("0.01"), decimal.Zero)
	require.NoError(t, err)

	pos, ok := e.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.SideBuy, pos.Side)
	assert.True(t, pos.Size.Equal(d("0.03")))
	assert.True(t, pos.EntryPrice.Equal(d("50000")), "reduce keeps the entry price")
	assert.True(t, pos.RealizedPnL.Equal(d("10")))
}

func TestOversizedOpposite_ReversesPosition(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))
	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.01"), decimal.Zero)
	require.NoError(t, err)

	e.UpdateMark("BTCUSDT", d("51000"))
	_, err = e.CreateOrder("BTCUSDT", core.SideSell, core.OrderKindMarket, d("0.03"), decimal.Zero)
	require.NoError(t, err)

	pos, ok := e.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.SideSell, pos.Side)
	assert.True(t, pos.Size.Equal(d("0.02")), "excess becomes the new position")
	assert.True(t, pos.EntryPrice.Equal(d("51000")), "reversal enters at the fill price")

	// Overlap realized: (51000-50000)*0.01 = 10.
	assert.True(t, e.PortfolioSummary().RealizedPnL.Equal(d("10")))
}

func TestPositionSize_MatchesSignedTradeSum(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	steps := []struct {
		side core.Side
		qty  string
	}{
		{core.SideBuy, "0.05"},
		{core.SideSell, "0.02"},
		{core.SideBuy, "0.01"},
		{core.SideSell, "0.03"},
	}
	for _, s := range steps {
		_, err := e.CreateOrder("BTCUSDT", s.side, core.OrderKindMarket, d(s.qty), decimal.Zero)
		require.NoError(t, err)
	}

	var net decimal.Decimal
	for _, tr := range e.Trades() {
		if tr.Side == core.SideBuy {
			net = net.Add(tr.Quantity)
		} else {
			net = net.Sub(tr.Quantity)
		}
	}

	pos, ok := e.Position("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(net), "position %s vs signed sum %s", pos.Size, net)
}

func TestLimitOrder_FillsAtCurrentPriceNotLimit(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	cfg := DefaultConfig()
	cfg.LimitPollInterval = 5 * time.Millisecond
	e.cfg = cfg

	e.UpdateMark("BTCUSDT", d("50000"))
	order, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindLimit, d("0.01"), d("49500"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusNew, order.Status)
	require.Len(t, rec.orders, 1, "resting order announced once")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	// Above the limit: nothing happens.
	time.Sleep(30 * time.Millisecond)
	got, err := e.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusNew, got.Status)

	// Drop through the limit: the poller fills at the current mark.
	e.UpdateMark("BTCUSDT", d("49400"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err = e.GetOrder(order.ID)
		require.NoError(t, err)
		if got.Status == core.OrderStatusFilled {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, core.OrderStatusFilled, got.Status)
	assert.True(t, got.AvgFillPrice.Equal(d("49400")), "fills at the mark, not the 49500 limit")
}

func TestLimitOrder_SellTrigger(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	order, err := e.CreateOrder("BTCUSDT", core.SideSell, core.OrderKindLimit, d("0.01"), d("50500"))
	require.NoError(t, err)

	e.UpdateMark("BTCUSDT", d("50600"))
	e.pollLimitOrders()

	got, err := e.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, got.Status)
	assert.True(t, got.AvgFillPrice.Equal(d("50600")))
}

func TestCancelOrder(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	order, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindLimit, d("0.01"), d("49000"))
	require.NoError(t, err)

	assert.True(t, e.CancelOrder(order.ID))

	got, err := e.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCancelled, got.Status)

	// Terminal and unknown orders both refuse.
	assert.False(t, e.CancelOrder(order.ID))
	assert.False(t, e.CancelOrder("no-such-order"))
}

func TestFillTerminalOrder_Panics(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	order, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("0.01"), decimal.Zero)
	require.NoError(t, err)

	e.mu.Lock()
	stored := e.orders[order.ID]
	e.mu.Unlock()

	assert.Panics(t, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.fillLocked(stored, d("51000"))
	})
}

func TestCreateOrder_RejectsNonPositiveQty(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.UpdateMark("BTCUSDT", d("50000"))

	_, err := e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, apperrors.ErrQuantityTooSmall)

	_, err = e.CreateOrder("BTCUSDT", core.SideBuy, core.OrderKindMarket, d("-1"), decimal.Zero)
	assert.ErrorIs(t, err, apperrors.ErrQuantityTooSmall)
}
