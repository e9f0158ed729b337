package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig tunes [Retry]. Attempts are 1 + MaxRetries; the wait between
// attempts starts at InitialBackoff and doubles up to MaxBackoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero means
	// a single attempt.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Default: 250ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 5s.
	MaxBackoff time.Duration
}

// Retry runs fn until it succeeds, the retry budget is exhausted, or ctx is
// cancelled. It returns nil on the first success; otherwise the last error,
// or the context error if cancelled while waiting.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("resilience: retry cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("resilience: %d attempts failed: %w", cfg.MaxRetries+1, lastErr)
}
