// Package retry holds the backoff policy for provider calls. Providers never
// retry internally; the step loop and the helpers here own the budget, so
// every attempt is observable.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llm/llmerrors"
	"agentcore/pkg/logx"
)

//nolint:gochecknoglobals // Component logger, set once
var logger = logx.NewLogger("retry")

// Policy defines exponential backoff for retrying provider calls.
type Policy struct {
	MaxRetries    int           // Retry attempts after the first try
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Cap on the backoff
	BackoffFactor float64       // Multiplier per attempt
	Jitter        bool          // Spread delays to avoid thundering herd

	// OnRetry, when set, observes every retry before its backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy matches the runtime's per-step budget: one call plus up to
// three retries.
var DefaultPolicy = Policy{
	MaxRetries:    3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Delay computes the backoff before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		// Up to +-10% of the computed delay.
		span := int64(delay) / 10
		delay += time.Duration(rand.Int64N(2*span+1) - span)
	}
	if delay < 0 {
		delay = p.InitialDelay
	}
	return delay
}

// Sleep waits out the backoff for the given retry attempt, returning early
// with the context error if the caller is interrupted.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	return sleepFor(ctx, p.Delay(attempt))
}

func sleepFor(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Complete calls the client under this policy. Empty responses count as
// failed attempts. After the budget is spent the last error comes back
// wrapped as exhausted.
func Complete(ctx context.Context, client llm.Client, in llm.CompletionRequest, p Policy) (llm.CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			logger.Warn("provider call failed, retry %d/%d in %s: %v",
				attempt, p.MaxRetries, delay.Round(time.Millisecond), lastErr)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr)
			}
			if err := sleepFor(ctx, delay); err != nil {
				return llm.CompletionResponse{}, err
			}
		}

		resp, err := client.Complete(ctx, in)
		if err == nil {
			if !resp.IsEmpty() {
				return resp, nil
			}
			err = llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "model returned no content")
		}

		lastErr = err
		if !llmerrors.Retryable(err) {
			return llm.CompletionResponse{}, err
		}
	}

	return llm.CompletionResponse{}, llmerrors.NewExhaustedError(lastErr, p.MaxRetries+1)
}

// Wrap returns a client that applies the policy around every Complete call.
// Auxiliary completions (summarization) use this; the step loop calls
// Complete directly so it can watch attempts.
func Wrap(client llm.Client, p Policy) llm.Client {
	return &retryClient{inner: client, policy: p}
}

type retryClient struct {
	inner  llm.Client
	policy Policy
}

func (c *retryClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	return Complete(ctx, c.inner, in, c.policy)
}

func (c *retryClient) ModelName() string { return c.inner.ModelName() }
