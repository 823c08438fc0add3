package warp

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Quota exhaustion phrases the upstream puts in error bodies
var quotaPhrases = []string{
	"No remaining quota",
	"No AI requests remaining",
}

// UpstreamError represents a non-200 response from the upstream
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// IsBlocked reports an authorization denial (403)
func (e *UpstreamError) IsBlocked() bool {
	return e.StatusCode == 403
}

// IsRateLimited reports a rate limit (429)
func (e *UpstreamError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsQuotaExhausted reports a quota exhaustion phrase in the body
func (e *UpstreamError) IsQuotaExhausted() bool {
	return IsQuotaExhaustedBody(e.Body)
}

// IsQuotaExhaustedBody checks a response body for the quota phrases
func IsQuotaExhaustedBody(body string) bool {
	for _, phrase := range quotaPhrases {
		if strings.Contains(body, phrase) {
			return true
		}
	}
	return false
}

// AsUpstreamError unwraps err into an UpstreamError if possible
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsTransient reports network-level failures that must not mutate
// account status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "EOF", "timeout", "no such host", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
