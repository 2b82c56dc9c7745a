package market

import (
	"math"

	"papertrader/internal/core"
)

// derive computes every indicator whose minimum window the price history
// satisfies. Prices are ordered oldest first.
func derive(prices []float64) core.IndicatorSnapshot {
	var snap core.IndicatorSnapshot

	if rsi, ok := computeRSI(prices, rsiPeriod); ok {
		snap.RSI = &rsi
	}
	if ema, ok := computeEMA(prices, emaShortPeriod); ok {
		snap.EMA20 = &ema
	}
	if ema, ok := computeEMA(prices, emaLongPeriod); ok {
		snap.EMA50 = &ema
	}
	if atr, ok := computeATR(prices, atrPeriod); ok {
		snap.ATR = &atr
	}
	if bands, ok := computeBollinger(prices, bollingerPeriod, bollingerWidth); ok {
		snap.Bands = &bands
	}
	return snap
}

// computeRSI implements Wilder's RSI: a simple average gain/loss over the
// first period, then exponential smoothing for the remainder.
func computeRSI(prices []float64, period int) (float64, bool) {
	if len(prices) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// computeEMA seeds at the oldest price and folds forward.
func computeEMA(prices []float64, period int) (float64, bool) {
	if len(prices) < period {
		return 0, false
	}

	multiplier := 2.0 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = (p-ema)*multiplier + ema
	}
	return ema, true
}

// computeATR approximates true range with the absolute close-to-close
// delta, averaged over the trailing period. With only close prices
// buffered there is no high/low to build the true range from.
func computeATR(prices []float64, period int) (float64, bool) {
	if len(prices) < period+1 {
		return 0, false
	}

	start := len(prices) - period
	var sum float64
	for i := start; i < len(prices); i++ {
		sum += math.Abs(prices[i] - prices[i-1])
	}
	return sum / float64(period), true
}

// computeBollinger returns the period SMA and bands at width standard
// deviations, over the most recent window.
func computeBollinger(prices []float64, period int, width float64) (core.BollingerBands, bool) {
	if len(prices) < period {
		return core.BollingerBands{}, false
	}

	window := prices[len(prices)-period:]

	var sum float64
	for _, p := range window {
		sum += p
	}
	mean := sum / float64(period)

	var variance float64
	for _, p := range window {
		d := p - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))

	return core.BollingerBands{
		Upper:  mean + width*stddev,
		Middle: mean,
		Lower:  mean - width*stddev,
	}, true
}
