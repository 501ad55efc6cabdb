package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds, mirroring the upstream service's classification.
const (
	KindRateLimit      = "rate_limit"
	KindAuth           = "authentication_failed"
	KindBilling        = "billing_error"
	KindServer         = "server_error"
	KindInvalidRequest = "invalid_request"
	KindUnknown        = "unknown"
)

// Error is a classified upstream failure.
type Error struct {
	Kind      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent: %s: %s", e.Kind, e.Message)
}

// classifyStatus maps an upstream HTTP-style status to kind and
// retryability.
func classifyStatus(status int) (kind string, retryable bool) {
	switch status {
	case 401:
		return KindAuth, false
	case 402, 403:
		return KindBilling, false
	case 400, 422:
		return KindInvalidRequest, false
	case 429, 529:
		return KindRateLimit, true
	case 500, 502, 503:
		return KindServer, true
	default:
		return KindUnknown, false
	}
}

// sessionInvalidMarkers are message fragments that mean the resumed
// conversation no longer exists upstream.
var sessionInvalidMarkers = []string{
	"session not found",
	"invalid session",
	"session expired",
	"conversation not found",
	"resume failed",
	"no conversation",
	"process exited with code",
}

// IsSessionInvalid reports whether the error means the resume handle is
// dead and the conversation must be rebuilt from history.
func IsSessionInvalid(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Kind == KindInvalidRequest {
			return true
		}
		return containsMarker(ae.Message)
	}
	if err != nil {
		return containsMarker(err.Error())
	}
	return false
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Retryable
}

func containsMarker(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range sessionInvalidMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
