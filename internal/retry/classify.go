package retry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPError carries the status code and any Retry-After hint of a failed
// provider call. Adapters wrap transport failures in it so classification
// does not depend on provider-specific error shapes.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // parsed Retry-After header, 0 when absent
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider call failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider call failed with status %d: %s", e.StatusCode, e.Message)
}

var quotaPatterns = []string{
	"quota",
	"resource_exhausted",
	"resource exhausted",
	"rate limit",
	"rate-limit",
	"ratelimit",
	"too many requests",
	"429",
}

// IsQuotaError reports whether an error indicates quota exhaustion or rate
// limiting, via status code 429 or message pattern matching.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range quotaPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"502",
	"503",
	"504",
	"no such host",
	"network unreachable",
	"broken pipe",
	"eof",
}

// IsTransientError reports whether an error looks like a recoverable
// network or 5xx-class failure.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 500 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsRetryable is the default predicate for provider calls: transient and
// quota errors retry, everything else fails fast.
func IsRetryable(err error) bool {
	return IsTransientError(err) || IsQuotaError(err)
}
