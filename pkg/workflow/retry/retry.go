// Package retry implements the retry executor: a policy-driven retry
// loop with exponential/linear/constant backoff and jitter, grounded in
// _examples/original_source/crates/llm-orchestrator-core/src/retry.rs.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

// Operation is a unit of work the executor retries on failure.
type Operation func(ctx context.Context) (interface{}, error)

// OperationWithAttempt is an Operation variant that receives the
// zero-indexed attempt number, useful for logging or attempt-dependent
// behavior.
type OperationWithAttempt func(ctx context.Context, attempt uint32) (interface{}, error)

// Executor runs an Operation according to a RetryPolicy, retrying only
// on errors apperrors classifies as retryable.
type Executor struct {
	policy types.RetryPolicy
	log    *logrus.Entry
}

// New creates an Executor bound to policy. policy is normalized in
// place so callers may pass a step's raw, un-normalized override.
func New(policy types.RetryPolicy, log *logrus.Entry) *Executor {
	policy.Normalize()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{policy: policy, log: log}
}

// Execute runs operation, retrying per the bound policy.
func (e *Executor) Execute(ctx context.Context, operation Operation) (interface{}, error) {
	return e.ExecuteWithInfo(ctx, func(ctx context.Context, _ uint32) (interface{}, error) {
		return operation(ctx)
	})
}

// ExecuteWithInfo runs operation, retrying per the bound policy and
// passing the current attempt number (0-indexed) on each call.
func (e *Executor) ExecuteWithInfo(ctx context.Context, operation OperationWithAttempt) (interface{}, error) {
	maxAttempts := uint32(1)
	if e.policy.IsEnabled() {
		maxAttempts = e.policy.MaxAttempts + 1 // +1 for the initial attempt
	}

	var attempt uint32
	for {
		result, err := operation(ctx, attempt)
		if err == nil {
			return result, nil
		}

		attempt++
		if attempt >= maxAttempts || !apperrors.IsRetryable(err) {
			return nil, err
		}

		delay := e.delayForAttempt(attempt - 1)
		e.log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"delay_ms":     delay.Milliseconds(),
			"error":        err.Error(),
		}).Warn("retrying after transient failure")

		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// delayForAttempt computes the wait before the given zero-indexed retry
// attempt, capped at MaxDelay and optionally jittered by ±25%.
func (e *Executor) delayForAttempt(attempt uint32) time.Duration {
	if attempt >= e.policy.MaxAttempts {
		return 0
	}

	base := e.baseDelay(attempt)
	if base > e.policy.MaxDelay {
		base = e.policy.MaxDelay
	}
	if !e.policy.Jitter {
		return base
	}
	return addJitter(base)
}

func (e *Executor) baseDelay(attempt uint32) time.Duration {
	initial := float64(e.policy.InitialDelay)
	switch e.policy.Backoff {
	case types.BackoffLinear:
		return time.Duration(initial * float64(attempt+1))
	case types.BackoffConstant:
		return e.policy.InitialDelay
	default: // exponential: initial * multiplier^attempt
		return time.Duration(initial * math.Pow(e.policy.Multiplier, float64(attempt)))
	}
}

// addJitter returns a random duration within ±25% of delay.
func addJitter(delay time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5 // uniform in [0.75, 1.25]
	return time.Duration(float64(delay) * factor)
}

