// Package events provides synchronous typed broadcast of engine events.
package events

import (
	"sync"

	"papertrader/internal/core"

	"github.com/shopspring/decimal"
)

// Bus fans engine events out to typed subscribers. Delivery is
// synchronous and in subscription order so an order event always reaches
// observers before the trade that filled it. Subscriber panics are
// recovered and logged; payloads are value copies.
type Bus struct {
	mu       sync.RWMutex
	orders   []core.OrderHandler
	trades   []core.TradeHandler
	position []core.PositionHandler
	balance  []core.BalanceHandler
	state    []core.StateHandler
	logger   core.ILogger
}

// NewBus creates an empty bus.
func NewBus(logger core.ILogger) *Bus {
	return &Bus{logger: logger.WithField("component", "event_bus")}
}

func (b *Bus) SubscribeOrders(h core.OrderHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, h)
}

func (b *Bus) SubscribeTrades(h core.TradeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, h)
}

func (b *Bus) SubscribePositions(h core.PositionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = append(b.position, h)
}

func (b *Bus) SubscribeBalance(h core.BalanceHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = append(b.balance, h)
}

func (b *Bus) SubscribeState(h core.StateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = append(b.state, h)
}

func (b *Bus) PublishOrder(order core.Order) {
	b.mu.RLock()
	handlers := make([]core.OrderHandler, len(b.orders))
	copy(handlers, b.orders)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(func() { h.HandleOrder(order) })
	}
}

func (b *Bus) PublishTrade(trade core.Trade) {
	b.mu.RLock()
	handlers := make([]core.TradeHandler, len(b.trades))
	copy(handlers, b.trades)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(func() { h.HandleTrade(trade) })
	}
}

func (b *Bus) PublishPosition(position core.Position) {
	b.mu.RLock()
	handlers := make([]core.PositionHandler, len(b.position))
	copy(handlers, b.position)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(func() { h.HandlePosition(position) })
	}
}

func (b *Bus) PublishBalance(balance decimal.Decimal) {
	b.mu.RLock()
	handlers := make([]core.BalanceHandler, len(b.balance))
	copy(handlers, b.balance)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(func() { h.HandleBalance(balance) })
	}
}

func (b *Bus) PublishState(event core.StateEvent) {
	b.mu.RLock()
	handlers := make([]core.StateHandler, len(b.state))
	copy(handlers, b.state)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(func() { h.HandleState(event) })
	}
}

func (b *Bus) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event subscriber panic recovered", "panic", r)
		}
	}()
	fn()
}
