package interceptor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kbukum/fetchkit/httpclient"
)

// RetryConfig configures the Retry interceptor.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, the first included.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration
	// Multiplier grows the delay after every retry.
	Multiplier float64
	// RandomizationFactor jitters each delay by up to this fraction.
	RandomizationFactor float64
	// NewBackOff overrides the exponential schedule built from the fields
	// above. It is called once per request.
	NewBackOff func() backoff.BackOff
	// ShouldRetry decides whether resp is worth another attempt.
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(resp *httpclient.Response) bool
	// OnRetry runs before waiting for the next attempt.
	OnRetry func(attempt int, resp *httpclient.Response, wait time.Duration)
}

// DefaultRetryConfig returns three attempts with exponential backoff
// starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

// DefaultShouldRetry retries retryable transfer errors and the statuses
// reported by httpclient.IsRetryableStatus (408, 429 and most 5xx).
func DefaultShouldRetry(resp *httpclient.Response) bool {
	if err := resp.Err(); err != nil {
		return err.Retryable
	}
	return httpclient.IsRetryableStatus(resp.StatusCode())
}

// WithDefaults returns c with every unset field filled in, the way Retry
// sees it. Callers that drive their own attempts use it to share the
// schedule and predicate.
func (c RetryConfig) WithDefaults() RetryConfig {
	c.applyDefaults()
	return c
}

func (c *RetryConfig) applyDefaults() {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.RandomizationFactor < 0 {
		c.RandomizationFactor = 0
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = DefaultShouldRetry
	}
	if c.NewBackOff == nil {
		initial, maxInterval, mult, jitter := c.InitialInterval, c.MaxInterval, c.Multiplier, c.RandomizationFactor
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.Multiplier = mult
			b.RandomizationFactor = jitter
			b.Reset()
			return b
		}
	}
}

// Retry repeats a request while cfg.ShouldRetry approves of the response,
// up to cfg.MaxAttempts attempts. Every attempt gets a fresh copy of the
// request. The last response is returned when attempts run out, the
// schedule stops or ctx ends during a wait.
func Retry(cfg RetryConfig) httpclient.Interceptor {
	cfg.applyDefaults()
	return httpclient.InterceptorFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
		b := cfg.NewBackOff()
		var resp *httpclient.Response
		for attempt := 1; ; attempt++ {
			resp = next(ctx, req.Clone())
			if resp == nil || attempt >= cfg.MaxAttempts || !cfg.ShouldRetry(resp) {
				return resp
			}

			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return resp
			}
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, resp, wait)
			}
			if !sleep(ctx, wait) {
				return resp
			}
		}
	})
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
