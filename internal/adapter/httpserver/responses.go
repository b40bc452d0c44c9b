// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the OpenAI-compatible synchronous chat endpoint, the async
// task surface (submit, status, result, cancel, batch), and operational
// read endpoints for queue stats, queue health, GPU pressure and the
// model registry. Admission policy lives here too: agent validation,
// per-agent max-token clamping, the sliding-window rate limit and the
// audit trail, all applied before a request reaches the routing core.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/medgate/inference-gateway/internal/domain"
)

// statusClientClosedRequest is the nginx convention for a caller that
// disconnected before the response was written.
const statusClientClosedRequest = 499

// backpressureRetryAfterSec is the Retry-After hint on 503 rejections.
// Rate-limit responses carry their own window-derived value instead.
const backpressureRetryAfterSec = 2

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrAgentUnknown):
		code = http.StatusBadRequest
		codeStr = "AGENT_UNKNOWN"
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusUnauthorized
		codeStr = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrNotReady):
		code = http.StatusConflict
		codeStr = "NOT_READY"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrExpired):
		code = http.StatusGone
		codeStr = "EXPIRED"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrQueueFull):
		code = http.StatusServiceUnavailable
		codeStr = "REJECTED_FULL"
	case errors.Is(err, domain.ErrNoViableTarget):
		code = http.StatusServiceUnavailable
		codeStr = "BACKPRESSURE_RETRY"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusGatewayTimeout
		codeStr = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrUpstreamBadResponse):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_BAD_RESPONSE"
	case errors.Is(err, domain.ErrCancelled):
		code = statusClientClosedRequest
		codeStr = "CANCELLED"
	}
	if needsRetryAfter(code) && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", strconv.Itoa(backpressureRetryAfterSec))
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}

// needsRetryAfter reports whether the status promises a Retry-After header.
// The rate limiter sets a window-derived value before writeError runs, so
// the fallback here only covers backpressure rejections.
func needsRetryAfter(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
