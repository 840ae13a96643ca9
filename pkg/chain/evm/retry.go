package evm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// retryBaseDelay doubles after every failed attempt.
var retryBaseDelay = 100 * time.Millisecond

var transientPatterns = []string{
	"eof",
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
}

// withRetry runs fn up to attempts times while its error looks transient.
func withRetry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
