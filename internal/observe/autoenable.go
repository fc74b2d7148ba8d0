package observe

import (
	"context"
	"log/slog"
	"time"
)

// AutoEnable attempts to switch captions on, retrying with a doubling
// delay. Failure is never fatal: without captions the page keeps working,
// there is simply nothing to capture. The final failure is logged once.
func AutoEnable(ctx context.Context, src Source, attempts int, baseDelay time.Duration) bool {
	if attempts <= 0 {
		attempts = 3
	}
	delay := baseDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
			delay *= 2
		}

		if err := src.EnableCaptions(ctx); err != nil {
			lastErr = err
			slog.Debug("caption enable attempt failed", "attempt", i+1, "error", err)
			continue
		}

		// The menu walk succeeded but rendering lags; confirm captions
		// actually appeared before declaring victory.
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return false
		}
		if _, ok, err := src.VisibleCaptions(ctx); err == nil && ok {
			slog.Info("captions enabled automatically", "attempt", i+1)
			return true
		}
		lastErr = nil
	}

	slog.Warn("could not enable captions automatically", "attempts", attempts, "error", lastErr)
	return false
}
