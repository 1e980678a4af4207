package towing

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// RetryPolicy configures WithRetry. A MaxAttempts of one or less disables retrying.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Retryable decides whether a failed attempt may be repeated. Context errors never are.
	Retryable func(error) bool
	// Sleep waits between attempts; it defaults to gax.Sleep.
	Sleep func(context.Context, time.Duration) error
	// OnRetry observes each scheduled retry.
	OnRetry func(ctx context.Context, op Operation, attempt int, err error)
}

// WithRetry wraps gen so transient failures are retried with exponential backoff.
func WithRetry(gen Generator, policy RetryPolicy) Generator {
	if gen == nil || policy.MaxAttempts <= 1 {
		return gen
	}
	if policy.Initial <= 0 {
		policy.Initial = 250 * time.Millisecond
	}
	if policy.Max <= 0 {
		policy.Max = 4 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.Sleep == nil {
		policy.Sleep = gax.Sleep
	}
	return &retryingGenerator{next: gen, policy: policy}
}

type retryingGenerator struct {
	next   Generator
	policy RetryPolicy
}

func (g *retryingGenerator) Generate(ctx context.Context, req Request) (string, error) {
	backoff := gax.Backoff{
		Initial:    g.policy.Initial,
		Max:        g.policy.Max,
		Multiplier: g.policy.Multiplier,
	}

	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		raw, err := g.next.Generate(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if attempt == g.policy.MaxAttempts || !g.retryable(err) {
			break
		}
		if g.policy.OnRetry != nil {
			g.policy.OnRetry(ctx, req.Operation, attempt, err)
		}
		if sleepErr := g.policy.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return "", errors.Join(lastErr, sleepErr)
		}
	}
	return "", lastErr
}

func (g *retryingGenerator) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if g.policy.Retryable != nil {
		return g.policy.Retryable(err)
	}
	return true
}
