package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"respguard/provider"
	"respguard/types"
)

// Classification is the retry decision for one error
type Classification int

const (
	Retryable Classification = iota
	NonRetryable
)

// String returns the string representation of the Classification
func (c Classification) String() string {
	if c == NonRetryable {
		return "non-retryable"
	}
	return "retryable"
}

var (
	retryablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)network|timeout|timed out|deadline exceeded`),
		regexp.MustCompile(`(?i)econnreset|connection reset|connection refused|broken pipe|socket hang up|\beof\b`),
		regexp.MustCompile(`(?i)enotfound|no such host|dns|eai_again`),
		regexp.MustCompile(`(?i)\b429\b|rate limit|too many requests`),
		regexp.MustCompile(`(?i)\b50[234]\b|bad gateway|service unavailable|gateway timeout`),
		regexp.MustCompile(`(?i)temporar|busy|overloaded`),
	}

	nonRetryablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b40[013]\b|bad request|unauthorized|forbidden|permission denied`),
		regexp.MustCompile(`(?i)\b404\b|not found`),
		regexp.MustCompile(`(?i)invalid|malformed|syntax error`),
	}
)

// Classify decides whether err is worth another attempt. Typed errors are
// checked first, then the message: retryable patterns win over
// non-retryable ones, and anything unrecognised is retryable.
func Classify(err error) Classification {
	if err == nil {
		return Retryable
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NonRetryable
	case errors.Is(err, types.ErrCircuitOpen):
		return NonRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return Retryable
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if p.MatchString(msg) {
			return Retryable
		}
	}
	for _, p := range nonRetryablePatterns {
		if p.MatchString(msg) {
			return NonRetryable
		}
	}
	return Retryable
}

func classifyStatus(code int) Classification {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return Retryable
	case code >= 500:
		return Retryable
	case code >= 400:
		return NonRetryable
	default:
		return Retryable
	}
}

// IsRetryable reports whether Classify considers err retryable
func IsRetryable(err error) bool {
	return Classify(err) == Retryable
}
