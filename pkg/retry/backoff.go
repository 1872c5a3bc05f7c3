package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
)

// BackoffConfig controls retry behavior for a resource.
type BackoffConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry; doubled per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay (before jitter).
	MaxDelay time.Duration

	// Jitter is the maximum random fraction added to the delay, e.g. 0.2
	// stretches a 1s delay to anywhere in [1s, 1.2s].
	Jitter float64

	// RetryableTypes lists the error categories worth retrying. Empty means
	// DefaultRetryableTypes.
	RetryableTypes []ErrorType
}

// RateLimitPreset is tuned for providers that enforce quota: slow base,
// high cap, wide jitter to spread synchronized retries.
func RateLimitPreset() BackoffConfig {
	return BackoffConfig{
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   60 * time.Second,
		Jitter:     0.2,
		RetryableTypes: []ErrorType{
			ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTimeout, ErrorTypeNetwork,
		},
	}
}

// QuickPreset is tuned for fast transient failures. Rate-limit errors are
// deliberately excluded: a quick retry against an exhausted quota only burns
// more of it.
func QuickPreset() BackoffConfig {
	return BackoffConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     0.1,
		RetryableTypes: []ErrorType{
			ErrorTypeServerError, ErrorTypeTimeout, ErrorTypeNetwork,
		},
	}
}

// Decision is the outcome of a single retry evaluation.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	ErrorType   ErrorType
	Attempt     int // zero-indexed attempt that just failed
	MaxAttempts int // initial attempt + retries
}

// Delay computes the backoff delay for the given zero-indexed attempt. A
// positive retryAfter hint overrides the exponential computation (still
// capped at cfg.MaxDelay).
func Delay(attempt int, cfg BackoffConfig, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if cfg.MaxDelay > 0 && retryAfter > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return retryAfter
	}

	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(cfg.MaxDelay); max > 0 && d > max {
		d = max
	}
	d *= 1 + rand.Float64()*cfg.Jitter
	return time.Duration(d)
}

// Decide classifies err and determines whether attempt (zero-indexed) should
// be retried under cfg, computing the delay to sleep first.
//
// Rate-limit failures get a floor of 5s on the base delay regardless of
// config: aggressive backoff against an exhausted quota makes things worse.
func Decide(err error, attempt int, cfg BackoffConfig) Decision {
	errType := Classify(err)
	d := Decision{
		ErrorType:   errType,
		Attempt:     attempt,
		MaxAttempts: cfg.MaxRetries + 1,
	}

	if attempt >= cfg.MaxRetries || !IsRetryable(err, cfg.RetryableTypes) {
		return d
	}

	effective := cfg
	if errType == ErrorTypeRateLimit && effective.BaseDelay < 5*time.Second {
		effective.BaseDelay = 5 * time.Second
	}

	d.ShouldRetry = true
	d.Delay = Delay(attempt, effective, ExtractRetryAfter(err))
	return d
}

// Do runs fn, retrying per cfg until it succeeds, the retry budget is
// exhausted, or ctx ends. It returns the number of attempts made and the
// last error (nil on success).
func Do(ctx context.Context, cfg BackoffConfig, fn func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}

		decision := Decide(lastErr, attempt, cfg)
		if !decision.ShouldRetry {
			return attempt + 1, lastErr
		}

		logging.Debugf("Retrying after %v (attempt %d/%d, error type %s): %v",
			decision.Delay, attempt+1, decision.MaxAttempts, decision.ErrorType, lastErr)

		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(decision.Delay):
		}
	}

	return cfg.MaxRetries + 1, lastErr
}
