package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeBusinessRule ErrorType = "BUSINESS_RULE"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidDate      ErrorCode = "INVALID_DATE"
	ErrCodeInvalidUnits     ErrorCode = "INVALID_UNITS"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"

	ErrCodeInsufficientUnits     ErrorCode = "INSUFFICIENT_UNITS"
	ErrCodeNoActiveAuthorization ErrorCode = "NO_ACTIVE_AUTHORIZATION"
	ErrCodeEmptyClaim            ErrorCode = "EMPTY_CLAIM"
	ErrCodeDeadlineExpired       ErrorCode = "DEADLINE_EXPIRED"
	ErrCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrCodeOverlappingWindow     ErrorCode = "OVERLAPPING_AUTHORIZATION"

	ErrCodeAuthorizationNotFound ErrorCode = "AUTHORIZATION_NOT_FOUND"
	ErrCodeServiceTypeNotFound   ErrorCode = "SERVICE_TYPE_NOT_FOUND"
	ErrCodeClaimNotFound         ErrorCode = "CLAIM_NOT_FOUND"
	ErrCodeDenialNotFound        ErrorCode = "DENIAL_NOT_FOUND"
	ErrCodeBatchNotFound         ErrorCode = "BATCH_NOT_FOUND"
	ErrCodeTaskNotFound          ErrorCode = "TASK_NOT_FOUND"
	ErrCodeClientNotFound        ErrorCode = "CLIENT_NOT_FOUND"

	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so package level sentinels work with errors.Is even
// when the returned error carries its own message or details.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// ForbiddenDetails names the capability the caller was missing.
type ForbiddenDetails struct {
	RequiredCapability string `json:"required_capability"`
	Resource           string `json:"resource,omitempty"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewBusinessRuleError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeBusinessRule,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(capability, resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       ErrCodeForbidden,
		Message:    fmt.Sprintf("missing required capability: %s", capability),
		StatusCode: http.StatusForbidden,
		Details: ForbiddenDetails{
			RequiredCapability: capability,
			Resource:           resource,
		},
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInsufficientUnitsError(requested, remaining float64) *AppError {
	return NewBusinessRuleError(
		fmt.Sprintf("insufficient units: requested %.2f, remaining %.2f", requested, remaining),
		ErrCodeInsufficientUnits,
	).WithDetails(map[string]float64{"requested": requested, "remaining": remaining})
}

func NewInvalidTransitionError(entity, from, to string) *AppError {
	return NewBusinessRuleError(
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		ErrCodeInvalidTransition,
	)
}

// Sentinels are for errors.Is comparisons and must not be mutated; use the
// constructors above to attach details.
var (
	ErrValidation            = NewValidationError("Validation failed", ErrCodeValidationFailed)
	ErrInsufficientUnits     = NewBusinessRuleError("insufficient authorized units", ErrCodeInsufficientUnits)
	ErrNoActiveAuthorization = NewBusinessRuleError("no active authorization covers this service date", ErrCodeNoActiveAuthorization)
	ErrEmptyClaim            = NewBusinessRuleError("no unbilled usage in the requested period", ErrCodeEmptyClaim)
	ErrDeadlineExpired       = NewBusinessRuleError("appeal deadline has passed", ErrCodeDeadlineExpired)
	ErrInvalidTransition     = NewBusinessRuleError("invalid state transition", ErrCodeInvalidTransition)
	ErrOverlappingWindow     = NewBusinessRuleError("an authorization already covers this client, service type and window", ErrCodeOverlappingWindow)
	ErrForbidden             = &AppError{Type: ErrorTypeForbidden, Code: ErrCodeForbidden, Message: "forbidden", StatusCode: http.StatusForbidden}
	ErrConcurrencyConflict   = NewConflictError("the record was changed by another request, please retry", ErrCodeConcurrencyConflict)

	ErrAuthorizationNotFound = NewNotFoundError("authorization not found", ErrCodeAuthorizationNotFound)
	ErrServiceTypeNotFound   = NewNotFoundError("service type not found", ErrCodeServiceTypeNotFound)
	ErrClaimNotFound         = NewNotFoundError("claim not found", ErrCodeClaimNotFound)
	ErrDenialNotFound        = NewNotFoundError("denial not found", ErrCodeDenialNotFound)
	ErrBatchNotFound         = NewNotFoundError("EDI batch not found", ErrCodeBatchNotFound)
	ErrTaskNotFound          = NewNotFoundError("denial task not found", ErrCodeTaskNotFound)
	ErrClientNotFound        = NewNotFoundError("client not found", ErrCodeClientNotFound)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
