package recovery

import (
	"context"
	"fmt"
	"time"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 10 * time.Second
)

// RetryDelay is the wait after failed attempt k (0-based):
// min(1s * 2^k, 10s).
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := baseRetryDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// WaitForBackoff sleeps for delay or returns early with the context's error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExhaustedError is returned by Execute when an operation failed for good.
type ExhaustedError struct {
	Info     *ErrorInfo
	Verdict  Verdict
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempt(s): %v", e.Attempts, e.Info.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Info.Err }

// Execute runs op and routes every failure through h. A failure is retried
// while the verdict allows it and the retry count stays within
// min(maxRetries, severity budget); the wait before the next attempt is
// RetryDelay(attempt). A validation recovery returns the zero value with a
// nil error.
func Execute[T any](ctx context.Context, h *Handler, ectx ErrorContext, maxRetries int, op func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		verdict := h.handle(ctx, err, ectx, attempt)
		if verdict.Continue {
			return zero, nil
		}

		limit := min(maxRetries, verdict.Info.MaxRetries)
		retry := verdict.Recovered || verdict.ShouldRetry
		if !retry || attempt >= limit || ctx.Err() != nil {
			return zero, &ExhaustedError{Info: verdict.Info, Verdict: verdict, Attempts: attempt + 1}
		}

		if werr := h.sleep(ctx, RetryDelay(attempt)); werr != nil {
			return zero, &ExhaustedError{Info: verdict.Info, Verdict: verdict, Attempts: attempt + 1}
		}
	}
}
