package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// retry runs fn up to attempts times with doubling backoff between tries.
// Context cancellation stops the loop immediately; the last error is
// returned once attempts are exhausted.
func retry(ctx context.Context, attempts int, backoff time.Duration, op string, logger *slog.Logger, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if attempt == attempts {
			break
		}

		logger.WarnContext(ctx, "step failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: %w", op, err)
}
