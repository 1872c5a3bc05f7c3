// Package retry provides error classification and backoff policies for the
// resource broker. Classification maps arbitrary failures from resource
// clients onto a small taxonomy; the backoff side decides whether and when a
// classified failure should be retried.
package retry

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrorType is the classified category of a failure.
type ErrorType string

const (
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeClientError ErrorType = "client_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// DefaultRetryableTypes are the categories retried when the caller supplies
// no allow-list. Client errors and unknown failures are excluded: retrying a
// malformed request or an unrecognized failure wastes quota.
var DefaultRetryableTypes = []ErrorType{
	ErrorTypeRateLimit,
	ErrorTypeServerError,
	ErrorTypeTimeout,
	ErrorTypeNetwork,
}

// StatusError is a provider failure carrying an HTTP-style status code and
// an optional retry-after hint as supplied by the provider. Resource client
// implementations wrap upstream errors in this type so classification does
// not depend on any one SDK's error shape.
type StatusError struct {
	Status     int
	Message    string
	RetryAfter float64           // raw provider value; see ExtractRetryAfter
	Headers    map[string]string // response headers, lowercase keys
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "status " + strconv.Itoa(e.Status)
}

// statusCoder matches SDK error types that expose an HTTP status, e.g. the
// openai-go APIError.
type statusCoder interface {
	StatusCode() int
}

// Classify maps err to an ErrorType. It is a pure total function: any input,
// including nil, yields a category.
//
// Resolution order: explicit status codes (StatusError, StatusCode()
// implementors), well-known stdlib errors (context deadline, net.Error
// timeouts), then message substrings.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Status)
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	return classifyMessage(err.Error())
}

func classifyStatus(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status == 408:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeServerError
	case status >= 400:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

func classifyMessage(msg string) ErrorType {
	m := strings.ToLower(msg)

	switch {
	case strings.Contains(m, "429"), strings.Contains(m, "rate limit"),
		strings.Contains(m, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"),
		strings.Contains(m, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(m, "econnrefused"), strings.Contains(m, "econnreset"),
		strings.Contains(m, "etimedout"), strings.Contains(m, "enotfound"),
		strings.Contains(m, "connection refused"), strings.Contains(m, "connection reset"),
		strings.Contains(m, "no such host"), strings.Contains(m, "broken pipe"):
		return ErrorTypeNetwork
	case strings.Contains(m, "500"), strings.Contains(m, "502"),
		strings.Contains(m, "503"), strings.Contains(m, "504"),
		strings.Contains(m, "internal server error"), strings.Contains(m, "bad gateway"),
		strings.Contains(m, "service unavailable"):
		return ErrorTypeServerError
	case strings.Contains(m, "400"), strings.Contains(m, "401"),
		strings.Contains(m, "403"), strings.Contains(m, "404"),
		strings.Contains(m, "bad request"), strings.Contains(m, "unauthorized"),
		strings.Contains(m, "not found"):
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

// ExtractRetryAfter reads a provider-supplied retry-after hint from err.
// Returns zero when no hint is present.
//
// Providers are inconsistent about units: Retry-After headers are seconds,
// while some JSON bodies carry milliseconds. Values < 1000 are interpreted
// as seconds and scaled; larger values are taken as milliseconds. A
// legitimate sub-second millisecond hint is therefore over-scaled — kept for
// compatibility with existing provider behavior.
func ExtractRetryAfter(err error) time.Duration {
	var se *StatusError
	if !errors.As(err, &se) {
		return 0
	}

	raw := se.RetryAfter
	if raw <= 0 && se.Headers != nil {
		if v, ok := se.Headers["retry-after"]; ok {
			if parsed, perr := strconv.ParseFloat(strings.TrimSpace(v), 64); perr == nil {
				raw = parsed
			}
		}
	}
	if raw <= 0 {
		return 0
	}

	if raw < 1000 {
		return time.Duration(raw * float64(time.Second))
	}
	return time.Duration(raw * float64(time.Millisecond))
}

// IsRetryable reports whether err's classification is in allowed. A nil or
// empty allow-list falls back to DefaultRetryableTypes.
func IsRetryable(err error, allowed []ErrorType) bool {
	if len(allowed) == 0 {
		allowed = DefaultRetryableTypes
	}
	t := Classify(err)
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
