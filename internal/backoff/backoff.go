// Package backoff computes jittered exponential delays for reconnect loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential delay calculation.
type Policy struct {
	// InitialMs is the delay before the first retry, in milliseconds.
	InitialMs float64
	// MaxMs caps the delay, in milliseconds.
	MaxMs float64
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// ReconnectPolicy returns the policy used for re-establishing the monitoring
// connection: 500ms initial, 30s cap, doubling, 20% jitter.
func ReconnectPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.2,
	}
}

// Delay calculates the delay for a given attempt number. Attempts start at 1.
func Delay(policy Policy, attempt int) time.Duration {
	return DelayWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the delay using a provided random value in [0.0, 1.0).
// Deterministic inputs make this usable from tests.
// The formula is base = initialMs * factor^(attempt-1), plus base*jitter*randomValue,
// clamped to maxMs.
func DelayWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Sleep waits for the given duration, respecting context cancellation.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepAttempt computes the delay for the given attempt and sleeps.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func SleepAttempt(ctx context.Context, policy Policy, attempt int) error {
	return Sleep(ctx, Delay(policy, attempt))
}
