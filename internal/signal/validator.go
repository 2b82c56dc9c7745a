package signal

import (
	"sync"
	"time"

	"papertrader/internal/core"
	"papertrader/pkg/telemetry"
)

// ValidatorConfig tunes the signal gates. Zero values fall back to
// defaults.
type ValidatorConfig struct {
	MinConfidence     float64
	Cooldown          time.Duration
	MaxSignalsPerHour int
}

const (
	defaultMinConfidence     = 0.7
	defaultCooldown          = 300 * time.Second
	defaultMaxSignalsPerHour = 6
)

type symbolState struct {
	lastAccepted time.Time
	hourlyCount  int
	countHour    time.Time // truncated to the hour
}

// Validator applies the acceptance gates in a fixed order: confidence
// floor, per-symbol cooldown, per-symbol hourly cap, sanity checks.
// Rejections are silent skips logged at debug level; only accepted
// signals mutate throttle state.
type Validator struct {
	cfg    ValidatorConfig
	logger core.ILogger

	mu       sync.Mutex
	bySymbol map[string]*symbolState

	now func() time.Time
}

// NewValidator creates a validator with the given gates.
func NewValidator(cfg ValidatorConfig, logger core.ILogger) *Validator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.MaxSignalsPerHour <= 0 {
		cfg.MaxSignalsPerHour = defaultMaxSignalsPerHour
	}
	return &Validator{
		cfg:      cfg,
		logger:   logger.WithField("component", "signal_validator"),
		bySymbol: make(map[string]*symbolState),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (v *Validator) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// Accept runs all gates against the signal. Accepted signals update the
// symbol's cooldown timestamp and hourly counter.
func (v *Validator) Accept(sig core.Signal) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()

	if sig.Confidence < v.cfg.MinConfidence {
		v.reject(sig, "confidence_floor")
		return false
	}

	state, ok := v.bySymbol[sig.Symbol]
	if !ok {
		state = &symbolState{}
		v.bySymbol[sig.Symbol] = state
	}

	if !state.lastAccepted.IsZero() && now.Sub(state.lastAccepted) < v.cfg.Cooldown {
		v.reject(sig, "cooldown")
		return false
	}

	// The counter belongs to a wall-clock hour, not a rolling window:
	// crossing the hour boundary resets it.
	hour := now.Truncate(time.Hour)
	if !hour.Equal(state.countHour) {
		state.countHour = hour
		state.hourlyCount = 0
	}
	if state.hourlyCount >= v.cfg.MaxSignalsPerHour {
		v.reject(sig, "hourly_cap")
		return false
	}

	if !v.sane(sig) {
		v.reject(sig, "sanity")
		return false
	}

	state.lastAccepted = now
	state.hourlyCount++
	return true
}

// sane verifies the signal's price and indicators are physically
// plausible: positive price, RSI within [0,100], positive EMAs and ATR
// where present.
func (v *Validator) sane(sig core.Signal) bool {
	if !sig.Price.IsPositive() {
		return false
	}
	ind := sig.Indicators
	if ind.RSI != nil && (*ind.RSI < 0 || *ind.RSI > 100) {
		return false
	}
	if ind.EMA20 != nil && *ind.EMA20 <= 0 {
		return false
	}
	if ind.EMA50 != nil && *ind.EMA50 <= 0 {
		return false
	}
	if ind.ATR != nil && *ind.ATR <= 0 {
		return false
	}
	return true
}

func (v *Validator) reject(sig core.Signal, reason string) {
	telemetry.GetGlobalMetrics().IncrementSignalsRejected(reason)
	v.logger.Debug("Signal rejected",
		"symbol", sig.Symbol, "strategy", sig.Strategy,
		"confidence", sig.Confidence, "reason", reason)
}
