// Package resilience wraps upstream calls with bounded retries and a
// per-(tenant, provider) circuit breaker. All provider traffic in the
// pipeline goes through Executor.Execute.
package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// Policy bounds one resilient call: total attempts, exponential backoff
// window, and a per-attempt timeout.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// DefaultPolicy returns the standard upstream policy: 3 attempts, 1s base
// delay doubling up to 30s, 30s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// Executor runs operations under a policy and records outcomes on the
// breaker guarding the target upstream.
type Executor struct {
	log zerolog.Logger
}

// NewExecutor returns an Executor logging through log.
func NewExecutor(log zerolog.Logger) *Executor {
	return &Executor{log: log}
}

// Execute runs op under policy. Retryable failures (network errors, 429,
// 5xx) are retried with exponential backoff; everything else fails
// immediately. The breaker is consulted before the first attempt and
// recorded once per Execute call, so one flapping retry burst counts as a
// single failure.
func (e *Executor) Execute(ctx context.Context, breaker *Breaker, policy Policy, op func(context.Context) error) error {
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return err
		}
	}

	backoff := retry.WithCappedDuration(policy.MaxDelay, retry.NewExponential(policy.BaseDelay))
	if policy.MaxAttempts > 0 {
		backoff = retry.WithMaxRetries(uint64(policy.MaxAttempts-1), backoff)
	}

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}

		opErr := op(callCtx)
		if opErr == nil {
			return nil
		}
		if cloudproviders.IsRetryable(opErr) {
			e.log.Debug().
				Err(opErr).
				Int("attempt", attempt).
				Msg("retryable upstream failure")
			return retry.RetryableError(opErr)
		}
		return opErr
	})

	if breaker != nil {
		if err != nil {
			breaker.RecordFailure(err)
		} else {
			breaker.RecordSuccess()
		}
	}
	return err
}
