package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationActionType    ErrorCode = "validation_invalid_action_type"
	ErrCodeValidationInterval      ErrorCode = "validation_invalid_interval"
	ErrCodeValidationPayload       ErrorCode = "validation_invalid_payload"
	ErrCodeValidationEntityConfig  ErrorCode = "validation_invalid_entity_config"
	ErrCodeValidationPlanSlug      ErrorCode = "validation_invalid_plan_slug"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_api_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_api_key_invalid"
	ErrCodeAuthKeyRevoked ErrorCode = "auth_api_key_revoked"

	// Permission (403)
	ErrCodePermissionTeamMismatch ErrorCode = "permission_team_mismatch"
	ErrCodePermissionRole         ErrorCode = "permission_role_insufficient"

	// Limits (403/429)
	ErrCodeLimitQuota ErrorCode = "limit_quota_exceeded"
	ErrCodeRateLimit  ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundAction       ErrorCode = "not_found_scheduled_action"
	ErrCodeNotFoundTeam         ErrorCode = "not_found_team"
	ErrCodeNotFoundPlan         ErrorCode = "not_found_plan"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"

	// Conflict (409)
	ErrCodeConflictActionState ErrorCode = "conflict_action_not_pending"
	ErrCodeConflictConcurrent  ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe     ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamQueue      ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamWebhook    ErrorCode = "upstream_webhook_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case s == string(ErrCodeLimitQuota):
		return http.StatusForbidden // 403
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
