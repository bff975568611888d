// Package apierr defines the machine-readable error surface of the gateway.
// Every denial or failure the caller can observe is one of these codes;
// anything else is wrapped as an internal error with a correlation id.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Code string

const (
	CodeAuthentication     Code = "authentication_failed"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodeRateLimitExceeded  Code = "rate_limit_exceeded"
	CodeFeatureUnavailable Code = "feature_unavailable"
	CodeCacheBackend       Code = "cache_backend_failure"
	CodeEmbedding          Code = "embedding_failure"
	CodeUpstream           Code = "upstream_failure"
	CodeUpstreamTimeout    Code = "upstream_timeout"
	CodeUpstreamAuth       Code = "upstream_auth_failed"
	CodeValidation         Code = "validation_failed"
	CodeInternal           Code = "internal_error"
)

type Error struct {
	Code       Code
	Message    string
	Status     int
	RetryAfter time.Duration // 0 = no retry hint
	Details    map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func Unauthorized(message string) *Error {
	return &Error{Code: CodeAuthentication, Message: message, Status: http.StatusUnauthorized}
}

func QuotaExceeded(current, limit int64) *Error {
	return &Error{
		Code:    CodeQuotaExceeded,
		Message: "monthly request quota exceeded",
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{"current_usage": current, "monthly_limit": limit},
	}
}

func RateLimitExceeded(limit int, retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimitExceeded,
		Message:    "too many requests, please slow down",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Details:    map[string]any{"requests_per_minute": limit},
	}
}

func FeatureUnavailable(feature, currentPlan string) *Error {
	return &Error{
		Code:    CodeFeatureUnavailable,
		Message: fmt.Sprintf("feature %q requires a higher subscription plan", feature),
		Status:  http.StatusForbidden,
		Details: map[string]any{"feature": feature, "current_plan": currentPlan},
	}
}

func PlanRequired(requiredPlan, currentPlan string) *Error {
	return &Error{
		Code:    CodeFeatureUnavailable,
		Message: fmt.Sprintf("this operation requires the %s plan or higher", requiredPlan),
		Status:  http.StatusForbidden,
		Details: map[string]any{"required_plan": requiredPlan, "current_plan": currentPlan},
	}
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message, Status: http.StatusBadRequest}
}

func CacheBackend(err error) *Error {
	return &Error{Code: CodeCacheBackend, Message: "cache backend unavailable", Status: http.StatusInternalServerError, cause: err}
}

func EmbeddingFailure(err error) *Error {
	return &Error{Code: CodeEmbedding, Message: "embedding generation failed", Status: http.StatusInternalServerError, cause: err}
}

func Upstream(message string, err error) *Error {
	return &Error{Code: CodeUpstream, Message: message, Status: http.StatusBadGateway, cause: err}
}

func UpstreamTimeout(err error) *Error {
	return &Error{Code: CodeUpstreamTimeout, Message: "upstream model provider timed out", Status: http.StatusGatewayTimeout, cause: err}
}

func UpstreamAuth(err error) *Error {
	return &Error{Code: CodeUpstreamAuth, Message: "upstream model provider rejected credentials", Status: http.StatusBadGateway, cause: err}
}

// Write serializes err as a JSON error body. Unexpected errors are converted
// to an internal error carrying a correlation id; the underlying cause is
// logged server-side only.
func Write(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		correlationID := uuid.New().String()
		log.Printf("internal error [%s]: %v", correlationID, err)
		apiErr = &Error{
			Code:    CodeInternal,
			Message: "internal server error",
			Status:  http.StatusInternalServerError,
			Details: map[string]any{"correlation_id": correlationID},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(apiErr.RetryAfter.Seconds())))
	}
	w.WriteHeader(apiErr.Status)

	body := map[string]any{
		"error": apiErr.Message,
		"code":  apiErr.Code,
	}
	for k, v := range apiErr.Details {
		body[k] = v
	}
	if apiErr.RetryAfter > 0 {
		body["retry_after"] = fmt.Sprintf("%ds", int(apiErr.RetryAfter.Seconds()))
	}
	_ = json.NewEncoder(w).Encode(body)
}
