package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryAfterHint_FromHeader(t *testing.T) {
	err := &HTTPError{StatusCode: 429, RetryAfter: 42 * time.Second}
	d, ok := RetryAfterHint(err)
	if !ok || d != 42*time.Second {
		t.Fatalf("expected 42s hint, got %v (ok=%v)", d, ok)
	}
}

func TestRetryAfterHint_FromWrappedHeader(t *testing.T) {
	base := &HTTPError{StatusCode: 429, RetryAfter: 10 * time.Second}
	err := fmt.Errorf("posting comment: %w", base)
	d, ok := RetryAfterHint(err)
	if !ok || d != 10*time.Second {
		t.Fatalf("expected 10s hint through wrapping, got %v (ok=%v)", d, ok)
	}
}

func TestRetryAfterHint_EmbeddedPayloads(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want time.Duration
	}{
		{
			name: "duration string",
			msg:  `rpc error: {"error":{"status":"RESOURCE_EXHAUSTED","details":[{"retryDelay":"30s"}]}}`,
			want: 30 * time.Second,
		},
		{
			name: "seconds and nanos",
			msg:  `quota exhausted: {"retryInfo":{"retryDelay":{"seconds":12,"nanos":500000000}}}`,
			want: 12*time.Second + 500*time.Millisecond,
		},
		{
			name: "numeric retry_after",
			msg:  `upstream said {"retry_after": 7}`,
			want: 7 * time.Second,
		},
		{
			name: "truncated payload repaired",
			msg:  `rate limited: {"error": {"retryDelay": "45s"}`,
			want: 45 * time.Second,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := RetryAfterHint(errors.New(tc.msg))
			if !ok {
				t.Fatalf("expected a hint from %q", tc.msg)
			}
			if d != tc.want {
				t.Errorf("expected %v, got %v", tc.want, d)
			}
		})
	}
}

func TestRetryAfterHint_NoPayload(t *testing.T) {
	if _, ok := RetryAfterHint(errors.New("plain failure")); ok {
		t.Error("expected no hint from a plain error")
	}
	if _, ok := RetryAfterHint(nil); ok {
		t.Error("expected no hint from nil")
	}
}

func TestIsQuotaError(t *testing.T) {
	quota := []error{
		errors.New("quota exceeded"),
		errors.New("RESOURCE_EXHAUSTED: try later"),
		errors.New("rate limit hit"),
		errors.New("HTTP 429 Too Many Requests"),
		&HTTPError{StatusCode: 429},
	}
	for _, err := range quota {
		if !IsQuotaError(err) {
			t.Errorf("expected quota classification for %v", err)
		}
	}

	notQuota := []error{
		nil,
		errors.New("connection refused"),
		errors.New("invalid position"),
		&HTTPError{StatusCode: 500},
	}
	for _, err := range notQuota {
		if IsQuotaError(err) {
			t.Errorf("did not expect quota classification for %v", err)
		}
	}
}

func TestIsTransientError(t *testing.T) {
	if !IsTransientError(&HTTPError{StatusCode: 502}) {
		t.Error("expected 502 to be transient")
	}
	if !IsTransientError(errors.New("dial tcp: connection reset by peer")) {
		t.Error("expected connection reset to be transient")
	}
	if IsTransientError(errors.New("unknown field in request")) {
		t.Error("did not expect a validation-style failure to be transient")
	}
}
