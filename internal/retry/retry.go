// Package retry re-invokes a fallible operation up to a fixed number of
// attempts, logging and swallowing every failure except the last.
package retry

import "github.com/rs/zerolog"

// Do calls fn up to maxAttempts times. Every error except the final one is
// logged via log (if non-nil) and swallowed; the last failure is returned
// unchanged. maxAttempts <= 0 is treated as 1.
func Do(maxAttempts int, log *zerolog.Logger, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts && log != nil {
			log.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", maxAttempts).
				Msg("operation failed, retrying")
		}
	}
	return lastErr
}

// Do2 is the generic variant of Do for operations that also return a value.
func Do2[T any](maxAttempts int, log *zerolog.Logger, fn func() (T, error)) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var (
		zero    T
		lastVal T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastVal, lastErr = fn()
		if lastErr == nil {
			return lastVal, nil
		}
		if attempt < maxAttempts && log != nil {
			log.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", maxAttempts).
				Msg("operation failed, retrying")
		}
	}
	return zero, lastErr
}
