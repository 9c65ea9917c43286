package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds exponential backoff around completions.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"     validate:"min=1,max=10"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// DefaultRetryPolicy makes three attempts, backing off from 2s up to at most 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// Retrying retries transient completion failures with exponential backoff.
type Retrying struct {
	next   Completer
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetrying wraps next with policy.
func NewRetrying(next Completer, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	return &Retrying{next: next, policy: policy, logger: logger.With("module", "llm_retry")}
}

func (r *Retrying) Complete(ctx context.Context, prompt Prompt) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialInterval
	exp.MaxInterval = r.policy.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxAttempts-1)), ctx)

	var out string

	operation := func() error {
		resp, err := r.next.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !retryable(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		out = resp

		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "completion failed, retrying", "prompt", prompt.Name, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil {
		return "", err
	}

	return out, nil
}
