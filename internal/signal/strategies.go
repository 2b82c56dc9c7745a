package signal

import (
	"math"

	"papertrader/internal/core"
)

// Built-in strategy evaluators. Each one is intentionally small: it reads
// the snapshot, decides a direction, and scores its own conviction in
// [0,1]. Tuning happens through the params map at registration time.

func param(params map[string]float64, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return fallback
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Breakout signals in the direction of a close beyond the Bollinger
// bands. Confidence grows with the distance past the band, normalized by
// band width.
type Breakout struct{}

func (Breakout) Evaluate(symbol string, price float64, snap core.IndicatorSnapshot, params map[string]float64) *core.Signal {
	if snap.Bands == nil {
		return nil
	}
	width := snap.Bands.Upper - snap.Bands.Lower
	if width <= 0 {
		return nil
	}

	base := param(params, "base_confidence", 0.6)

	switch {
	case price > snap.Bands.Upper:
		excess := (price - snap.Bands.Upper) / width
		return &core.Signal{
			Direction:  core.DirectionBuy,
			Confidence: clamp01(base + excess),
		}
	case price < snap.Bands.Lower:
		excess := (snap.Bands.Lower - price) / width
		return &core.Signal{
			Direction:  core.DirectionSell,
			Confidence: clamp01(base + excess),
		}
	}
	return nil
}

// Momentum follows the short/long EMA spread, confirmed by RSI not being
// at the opposing extreme.
type Momentum struct{}

func (Momentum) Evaluate(symbol string, price float64, snap core.IndicatorSnapshot, params map[string]float64) *core.Signal {
	if snap.EMA20 == nil || snap.EMA50 == nil || *snap.EMA50 == 0 {
		return nil
	}

	spread := (*snap.EMA20 - *snap.EMA50) / *snap.EMA50
	threshold := param(params, "spread_threshold", 0.002)
	base := param(params, "base_confidence", 0.65)

	if math.Abs(spread) < threshold {
		return nil
	}

	direction := core.DirectionBuy
	if spread < 0 {
		direction = core.DirectionSell
	}

	if snap.RSI != nil {
		if direction == core.DirectionBuy && *snap.RSI > 75 {
			return nil
		}
		if direction == core.DirectionSell && *snap.RSI < 25 {
			return nil
		}
	}

	return &core.Signal{
		Direction:  direction,
		Confidence: clamp01(base + math.Abs(spread)*50),
	}
}

// MeanReversion fades moves away from the Bollinger middle band once the
// displacement exceeds a configurable share of the band half-width.
type MeanReversion struct{}

func (MeanReversion) Evaluate(symbol string, price float64, snap core.IndicatorSnapshot, params map[string]float64) *core.Signal {
	if snap.Bands == nil {
		return nil
	}
	halfWidth := (snap.Bands.Upper - snap.Bands.Lower) / 2
	if halfWidth <= 0 {
		return nil
	}

	displacement := (price - snap.Bands.Middle) / halfWidth
	trigger := param(params, "displacement_trigger", 0.8)
	base := param(params, "base_confidence", 0.6)

	if math.Abs(displacement) < trigger {
		return nil
	}

	direction := core.DirectionSell
	if displacement < 0 {
		direction = core.DirectionBuy
	}

	return &core.Signal{
		Direction:  direction,
		Confidence: clamp01(base + (math.Abs(displacement)-trigger)*0.5),
	}
}

// Contrarian trades against RSI extremes: oversold buys, overbought
// sells.
type Contrarian struct{}

func (Contrarian) Evaluate(symbol string, price float64, snap core.IndicatorSnapshot, params map[string]float64) *core.Signal {
	if snap.RSI == nil {
		return nil
	}

	oversold := param(params, "oversold", 30)
	overbought := param(params, "overbought", 70)
	base := param(params, "base_confidence", 0.6)

	switch {
	case *snap.RSI <= oversold:
		return &core.Signal{
			Direction:  core.DirectionBuy,
			Confidence: clamp01(base + (oversold-*snap.RSI)/100),
		}
	case *snap.RSI >= overbought:
		return &core.Signal{
			Direction:  core.DirectionSell,
			Confidence: clamp01(base + (*snap.RSI-overbought)/100),
		}
	}
	return nil
}
