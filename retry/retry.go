// Package retry provides exponential-backoff retry and timeout racing for
// flaky upstream calls. Classification of transient errors is string-based
// on purpose: SDK error types vary across providers, status text does not.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loopwise/converge"
)

// Config holds retry behavior for a single logical operation.
type Config struct {
	MaxRetries        int           // retries after the first attempt
	InitialBackoff    time.Duration // backoff before the first retry
	MaxBackoff        time.Duration // backoff ceiling
	BackoffMultiplier float64       // growth factor between retries
	AttemptTimeout    time.Duration // per-attempt deadline, 0 = none

	// Retriable overrides the default transient-error classifier.
	Retriable func(error) bool

	Logger converge.Logger
}

// DefaultConfig returns the retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    60 * time.Second,
	}
}

func (c Config) retriable(err error) bool {
	if c.Retriable != nil {
		return c.Retriable(err)
	}
	return IsRetriable(err)
}

func (c Config) logger() converge.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return converge.NewSlogLogger(nil)
}

// Do runs fn with retry and exponential backoff. Non-retriable errors
// return immediately; retriable ones are retried up to MaxRetries times.
// The operation name is used only for logging and error wrapping.
func Do[T any](ctx context.Context, cfg Config, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := cfg.InitialBackoff
	log := cfg.logger()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}

		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 0 {
				log.Logf("%s succeeded after %d retries", operation, attempt)
			}
			return result, nil
		}
		lastErr = err

		if !cfg.retriable(err) {
			log.Errorf("%s failed with non-retriable error: %v", operation, err)
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s failed: context canceled: %w", operation, ctx.Err())
		}

		log.Logf("%s failed (attempt %d/%d), retrying in %v: %v",
			operation, attempt+1, cfg.MaxRetries+1, backoff, err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		case <-ctx.Done():
			return zero, fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxRetries+1, lastErr)
}

// Race runs fn with a hard deadline and returns whichever comes first, the
// result or the deadline. fn keeps the context and must honor cancellation.
func Race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := fn(raceCtx)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-raceCtx.Done():
		var zero T
		return zero, raceCtx.Err()
	}
}

// IsRetriable reports whether an error looks transient. Rate limits,
// server errors, and network faults retry; other client errors do not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	return false
}
