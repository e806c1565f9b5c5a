package mattermost

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	retryAttempts = 3
	retryPause    = 2 * time.Second
)

// withRetry runs fn, retrying transient failures. Rate limit responses
// wait for the server's Retry-After and do not count against the
// attempt budget; other errors are retried up to retryAttempts times
// with a fixed pause. Client errors (4xx other than 429) fail fast.
func withRetry(ctx context.Context, logger *zap.Logger, fn func() error) error {
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}

		var rateErr *RateLimitedError
		if errors.As(err, &rateErr) {
			logger.Warn("Rate limited by server, waiting",
				zap.Duration("retry_after", rateErr.RetryAfter))
			select {
			case <-time.After(rateErr.RetryAfter):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var appErr *AppError
		if errors.As(err, &appErr) && appErr.StatusCode >= 400 && appErr.StatusCode < 500 {
			return err
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return err
		}

		attempt++
		if attempt >= retryAttempts {
			return err
		}

		logger.Warn("Remote call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(retryPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
