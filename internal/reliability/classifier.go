package reliability

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ent0n29/plantdoc/internal/agent"
)

// Error codes reported for failed agent calls.
const (
	CodeCanceled     = "canceled"
	CodeTimeout      = "timeout"
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeUpstream     = "upstream_unavailable"
	CodeBadRequest   = "bad_request"
	CodeNetwork      = "network"
	CodeUnknown      = "agent_error"
)

// IsRetryableHTTPStatus classifies HTTP status codes a user may retry by hand.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps an agent failure to a stable code and whether asking again
// later may succeed. Nothing retries automatically; the flag is a UI hint.
func Classify(err error) (code string, retryable bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}

	var statusErr *agent.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout, true
		}
		return CodeNetwork, true
	}

	// SDK errors only expose their status through the message text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid"), strings.Contains(msg, "permission_denied"), strings.Contains(msg, "unauthenticated"):
		return CodeUnauthorized, false
	case strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "quota"):
		return CodeRateLimited, true
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "internal error"):
		return CodeUpstream, true
	}
	return CodeUnknown, false
}

func classifyStatus(code int) (string, bool) {
	switch {
	case code == 401 || code == 403:
		return CodeUnauthorized, false
	case code == 429:
		return CodeRateLimited, true
	case IsRetryableHTTPStatus(code):
		return CodeUpstream, true
	case code >= 400 && code < 500:
		return CodeBadRequest, false
	default:
		return CodeUnknown, false
	}
}
