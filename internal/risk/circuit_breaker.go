package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

// CircuitConfig sets the trip thresholds. Zero-valued thresholds are
// disabled.
type CircuitConfig struct {
	MaxConsecutiveLosses int
	MaxDrawdownAmount    decimal.Decimal
	MaxDrawdownPercent   decimal.Decimal // of the reference balance
	ReferenceBalance     decimal.Decimal
	CooldownPeriod       time.Duration
}

// CircuitBreaker halts new entries after a losing streak or an excessive
// drawdown. It auto-resets after the cooldown.
type CircuitBreaker struct {
	mu                sync.RWMutex
	state             CircuitState
	config            CircuitConfig
	consecutiveLosses int
	totalPnL          decimal.Decimal
	lastTripped       time.Time
	tripReason        string

	now func() time.Time
}

// Status is a point-in-time breaker view.
type Status struct {
	Open              bool
	Reason            string
	ConsecutiveLosses int
	TotalPnL          decimal.Decimal
	TrippedAt         time.Time
}

func NewCircuitBreaker(config CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{
		state:  CircuitClosed,
		config: config,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// RecordTrade folds a realized PnL into the breaker state.
func (cb *CircuitBreaker) RecordTrade(pnl decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}

	cb.totalPnL = cb.totalPnL.Add(pnl)

	cb.checkThresholds()
}

func (cb *CircuitBreaker) checkThresholds() {
	if cb.state == CircuitOpen {
		return
	}

	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		cb.trip("max consecutive losses reached")
		return
	}

	if !cb.config.MaxDrawdownAmount.IsZero() && cb.totalPnL.LessThan(cb.config.MaxDrawdownAmount.Neg()) {
		cb.trip("max drawdown amount reached")
		return
	}

	if !cb.config.MaxDrawdownPercent.IsZero() && !cb.config.ReferenceBalance.IsZero() {
		limit := cb.config.ReferenceBalance.Mul(cb.config.MaxDrawdownPercent).Div(decimal.NewFromInt(100))
		if cb.totalPnL.LessThan(limit.Neg()) {
			cb.trip("max drawdown percent reached")
		}
	}
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.state = CircuitOpen
	cb.lastTripped = cb.now()
	cb.tripReason = reason
}

// IsTripped reports whether the breaker blocks new entries, auto-closing
// once the cooldown has elapsed.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return false
	}
	if cb.config.CooldownPeriod > 0 && cb.now().Sub(cb.lastTripped) > cb.config.CooldownPeriod {
		cb.state = CircuitClosed
		cb.consecutiveLosses = 0
		cb.totalPnL = decimal.Zero
		cb.tripReason = ""
		return false
	}
	return true
}

// Reset closes the breaker and clears accumulated state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveLosses = 0
	cb.totalPnL = decimal.Zero
	cb.tripReason = ""
}

// Trip opens the breaker manually.
func (cb *CircuitBreaker) Trip(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(reason)
}

// GetStatus returns the current breaker state.
func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Status{
		Open:              cb.state == CircuitOpen,
		Reason:            cb.tripReason,
		ConsecutiveLosses: cb.consecutiveLosses,
		TotalPnL:          cb.totalPnL,
		TrippedAt:         cb.lastTripped,
	}
}
