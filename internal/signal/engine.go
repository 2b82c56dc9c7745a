// Package signal turns buffered market data into validated trading
// signals via pluggable strategy evaluators.
package signal

import (
	"sync"
	"time"

	"papertrader/internal/core"
	"papertrader/internal/market"
	"papertrader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Evaluator is a single strategy. It inspects the indicator snapshot and
// returns at most one candidate signal, or nil to abstain.
type Evaluator interface {
	Evaluate(symbol string, price float64, snapshot core.IndicatorSnapshot, params map[string]float64) *core.Signal
}

type registeredStrategy struct {
	name      string
	evaluator Evaluator
	params    map[string]float64
}

// Engine owns the market buffer, the registered strategies, and the
// validator. Strategies run in registration order.
type Engine struct {
	mu         sync.Mutex
	buffer     *market.Buffer
	strategies []registeredStrategy
	validator  *Validator
	handlers   []core.SignalHandler
	minHistory int
	logger     core.ILogger
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	BufferCapacity int
	MinHistory     int
}

const defaultMinHistory = 50

// NewEngine creates an engine with the given validator.
func NewEngine(opts Options, validator *Validator, logger core.ILogger) *Engine {
	minHistory := opts.MinHistory
	if minHistory <= 0 {
		minHistory = defaultMinHistory
	}
	return &Engine{
		buffer:     market.NewBuffer(opts.BufferCapacity),
		validator:  validator,
		minHistory: minHistory,
		logger:     logger.WithField("component", "signal_engine"),
	}
}

// Buffer exposes the engine's market buffer for read access.
func (e *Engine) Buffer() *market.Buffer {
	return e.buffer
}

// RegisterStrategy adds a strategy. Params are passed through to the
// evaluator untouched.
func (e *Engine) RegisterStrategy(name string, evaluator Evaluator, params map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, registeredStrategy{
		name:      name,
		evaluator: evaluator,
		params:    params,
	})
	e.logger.Info("Strategy registered", "name", name)
}

// OnSignal registers a handler for accepted signals.
func (e *Engine) OnSignal(handler core.SignalHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// UpdateMarketData appends an observation to the symbol's history.
func (e *Engine) UpdateMarketData(symbol string, price, volume float64) {
	e.buffer.Update(symbol, price, volume)
	telemetry.GetGlobalMetrics().IncrementTicks()
}

// GenerateSignals runs every strategy against the symbol's current
// indicators and returns the signals that pass validation. Accepted
// signals are also broadcast to registered handlers.
func (e *Engine) GenerateSignals(symbol string) []core.Signal {
	if e.buffer.Len(symbol) < e.minHistory {
		return nil
	}

	price, ok := e.buffer.LastPrice(symbol)
	if !ok {
		return nil
	}
	snapshot := e.buffer.Indicators(symbol)

	e.mu.Lock()
	strategies := make([]registeredStrategy, len(e.strategies))
	copy(strategies, e.strategies)
	handlers := make([]core.SignalHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	var accepted []core.Signal
	for _, s := range strategies {
		candidate := e.evaluate(s, symbol, price, snapshot)
		if candidate == nil || candidate.Direction == core.DirectionHold {
			continue
		}

		candidate.Strategy = s.name
		candidate.Symbol = symbol
		if candidate.Price.IsZero() {
			candidate.Price = decimal.NewFromFloat(price)
		}
		if candidate.Timestamp.IsZero() {
			candidate.Timestamp = time.Now()
		}
		candidate.Indicators = snapshot

		telemetry.GetGlobalMetrics().IncrementSignalsGenerated(s.name)

		if !e.validator.Accept(*candidate) {
			continue
		}

		telemetry.GetGlobalMetrics().IncrementSignalsAccepted(s.name)
		accepted = append(accepted, *candidate)

		for _, h := range handlers {
			e.notify(h, *candidate)
		}
	}
	return accepted
}

// evaluate runs a single strategy, containing panics so one broken
// evaluator cannot stop the run.
func (e *Engine) evaluate(s registeredStrategy, symbol string, price float64, snapshot core.IndicatorSnapshot) (signal *core.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Strategy evaluator panic recovered",
				"strategy", s.name, "symbol", symbol, "panic", r)
			signal = nil
		}
	}()
	return s.evaluator.Evaluate(symbol, price, snapshot, s.params)
}

func (e *Engine) notify(h core.SignalHandler, sig core.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Signal handler panic recovered",
				"strategy", sig.Strategy, "symbol", sig.Symbol, "panic", r)
		}
	}()
	h.HandleSignal(sig)
}
