// Package apperrors defines the sentinel errors used at fallible
// boundaries so call sites can distinguish skip-and-continue from
// log-and-escalate by type.
package apperrors

import "errors"

// Transport errors. Bounded-retried, then surfaced as a disconnected
// state; never fatal to the process.
var (
	ErrNotConnected         = errors.New("stream not connected")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrDecodeFailed         = errors.New("frame decode failed")
	ErrReconnectExhausted   = errors.New("reconnect attempts exhausted")
)

// Execution errors. The specific order attempt is abandoned and an alert
// is emitted; no retry.
var (
	ErrNoPrice          = errors.New("no current price for symbol")
	ErrRiskRejected     = errors.New("rejected by risk gate")
	ErrQuantityTooSmall = errors.New("computed quantity not positive")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderTerminal    = errors.New("order is in a terminal status")
)
