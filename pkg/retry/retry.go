package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64 // 1.0 keeps the backoff fixed between attempts
	Jitter         bool
}

// DefaultPolicy is a sensible default for transient API failures.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2.0,
	Jitter:         true,
}

// FixedPolicy returns a constant-backoff policy with a hard attempt cap.
// The stream transport uses this for its bounded reconnect sequence.
func FixedPolicy(attempts int, backoff time.Duration) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: backoff,
		MaxBackoff:     backoff,
		Multiplier:     1.0,
	}
}

// IsTransientFunc reports whether an error should be retried.
type IsTransientFunc func(error) bool

// Always treats every error as transient.
func Always(error) bool { return true }

// Do executes fn with retries according to the policy. The last error is
// returned once attempts are exhausted or a non-transient error occurs.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleep := backoff
		if policy.Jitter && backoff > 1 {
			sleep += time.Duration(rand.Int63n(int64(backoff / 2)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
			next := time.Duration(float64(backoff) * policy.Multiplier)
			if next > policy.MaxBackoff {
				next = policy.MaxBackoff
			}
			backoff = next
		}
	}

	return err
}
