// Package market maintains rolling per-symbol price history and derives
// technical indicators from it.
package market

import (
	"sync"

	"papertrader/internal/core"
)

const (
	// DefaultCapacity is the per-symbol history bound.
	DefaultCapacity = 200

	rsiPeriod       = 14
	atrPeriod       = 14
	emaShortPeriod  = 20
	emaLongPeriod   = 50
	bollingerPeriod = 20
	bollingerWidth  = 2.0
)

type series struct {
	prices  []float64
	volumes []float64
}

// Buffer is a capacity-bounded FIFO of price and volume per symbol.
// Indicator derivation is pure over the current contents, so repeated
// reads without intervening updates return identical snapshots.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	bySymbol map[string]*series
}

// NewBuffer creates a buffer with the given per-symbol capacity.
// Non-positive capacities fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		bySymbol: make(map[string]*series),
	}
}

// Update appends a price/volume observation, evicting the oldest entry
// once the symbol's history is full.
func (b *Buffer) Update(symbol string, price, volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.bySymbol[symbol]
	if !ok {
		s = &series{
			prices:  make([]float64, 0, b.capacity),
			volumes: make([]float64, 0, b.capacity),
		}
		b.bySymbol[symbol] = s
	}

	if len(s.prices) == b.capacity {
		s.prices = s.prices[1:]
		s.volumes = s.volumes[1:]
	}
	s.prices = append(s.prices, price)
	s.volumes = append(s.volumes, volume)
}

// Len returns the number of buffered observations for a symbol.
func (b *Buffer) Len(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.bySymbol[symbol]; ok {
		return len(s.prices)
	}
	return 0
}

// Prices returns a copy of the buffered prices for a symbol, oldest first.
func (b *Buffer) Prices(symbol string) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.bySymbol[symbol]
	if !ok {
		return nil
	}
	out := make([]float64, len(s.prices))
	copy(out, s.prices)
	return out
}

// LastPrice returns the most recent price, or false when no history exists.
func (b *Buffer) LastPrice(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.bySymbol[symbol]
	if !ok || len(s.prices) == 0 {
		return 0, false
	}
	return s.prices[len(s.prices)-1], true
}

// LastVolume returns the most recent volume, or false when no history exists.
func (b *Buffer) LastVolume(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.bySymbol[symbol]
	if !ok || len(s.volumes) == 0 {
		return 0, false
	}
	return s.volumes[len(s.volumes)-1], true
}

// Indicators derives the indicator snapshot for a symbol. Fields stay nil
// until their minimum window is available.
func (b *Buffer) Indicators(symbol string) core.IndicatorSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.bySymbol[symbol]
	if !ok {
		return core.IndicatorSnapshot{}
	}
	return derive(s.prices)
}
