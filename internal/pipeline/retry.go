package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"policy-claims/backend/internal/reasoner"
)

// RetryPolicy bounds reasoner retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy makes three attempts, backing off 2s then 4s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

func withRetry[T any](ctx context.Context, policy RetryPolicy, metrics *Metrics, stage string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		value, err := call(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !reasoner.IsRetryable(err) || attempt == policy.MaxAttempts {
			break
		}

		metrics.IncRetry(stage)
		logrus.WithError(err).WithFields(logrus.Fields{
			"stage":   stage,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reasoner call failed, retrying")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}
	return zero, lastErr
}
