package retry

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RetryAfterHint extracts a provider-supplied retry delay from an error:
// a parsed Retry-After header carried by HTTPError, or a structured payload
// embedded in the error message expressing seconds ("30s", 30) or
// {seconds, nanos}. Providers frequently truncate or mangle embedded JSON,
// so a failed parse is run through jsonrepair before giving up.
func RetryAfterHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter, true
	}

	return hintFromPayload(err.Error())
}

// hintFromPayload scans message text for an embedded JSON object carrying a
// retry delay.
func hintFromPayload(msg string) (time.Duration, bool) {
	start := strings.Index(msg, "{")
	end := strings.LastIndex(msg, "}")
	if start < 0 || end <= start {
		return 0, false
	}
	raw := msg[start : end+1]

	var payload any
	if jsonErr := json.Unmarshal([]byte(raw), &payload); jsonErr != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return 0, false
		}
		if jsonErr := json.Unmarshal([]byte(repaired), &payload); jsonErr != nil {
			return 0, false
		}
	}

	return findDelay(payload)
}

var delayKeys = map[string]bool{
	"retrydelay":  true,
	"retry_delay": true,
	"retryafter":  true,
	"retry_after": true,
	"retryin":     true,
}

// findDelay walks a decoded payload looking for a recognized delay field.
func findDelay(node any) (time.Duration, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		if list, ok := node.([]any); ok {
			for _, item := range list {
				if d, found := findDelay(item); found {
					return d, true
				}
			}
		}
		return 0, false
	}

	for key, value := range obj {
		if delayKeys[strings.ToLower(key)] {
			if d, ok := parseDelayValue(value); ok {
				return d, true
			}
		}
	}
	for _, value := range obj {
		if d, found := findDelay(value); found {
			return d, true
		}
	}
	return 0, false
}

// parseDelayValue handles "30s" strings, bare seconds (string or number),
// and {seconds, nanos} objects.
func parseDelayValue(value any) (time.Duration, bool) {
	switch v := value.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d, true
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second)), true
		}
	case map[string]any:
		secs, hasSecs := numericField(v, "seconds")
		if !hasSecs {
			return 0, false
		}
		nanos, _ := numericField(v, "nanos")
		d := time.Duration(secs*float64(time.Second)) + time.Duration(nanos)
		if d > 0 {
			return d, true
		}
	}
	return 0, false
}

func numericField(obj map[string]any, name string) (float64, bool) {
	for key, value := range obj {
		if !strings.EqualFold(key, name) {
			continue
		}
		switch v := value.(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
