package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type ErrorType string

const (
	ErrRateLimited        ErrorType = "RATE_LIMITED"
	ErrValidationFailed   ErrorType = "VALIDATION_FAILED"
	ErrReferentialMissing ErrorType = "REFERENTIAL_NOT_FOUND"
	ErrInsufficientFunds  ErrorType = "INSUFFICIENT_BALANCE"
	ErrRiskLimit          ErrorType = "RISK_LIMIT_EXCEEDED"
	ErrTransient          ErrorType = "TRANSIENT_DEPENDENCY_FAILURE"
	ErrUnauthorized       ErrorType = "UNAUTHORIZED"
	ErrForbidden          ErrorType = "FORBIDDEN"
	ErrNotFound           ErrorType = "NOT_FOUND"
	ErrCancelled          ErrorType = "REQUEST_CANCELLED"
	ErrInternal           ErrorType = "INTERNAL_ERROR"
)

// Stable field-level codes returned to clients.
const (
	CodeRequired           = "REQUIRED"
	CodeInvalidNumber      = "INVALID_NUMBER"
	CodeInvalidFormat      = "INVALID_FORMAT"
	CodeInvalidType        = "INVALID_TYPE"
	CodeInvalidSide        = "INVALID_SIDE"
	CodeMustBePositive     = "MUST_BE_POSITIVE"
	CodeBelowMinimum       = "BELOW_MINIMUM"
	CodeAboveMaximum       = "ABOVE_MAXIMUM"
	CodePrecisionExceeded  = "PRECISION_EXCEEDED"
	CodePriceRequired      = "PRICE_REQUIRED"
	CodePriceUnavailable   = "PRICE_UNAVAILABLE"
	CodePairNotFound       = "PAIR_NOT_FOUND"
	CodePairInactive       = "PAIR_INACTIVE"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeUserInactive       = "USER_INACTIVE"
	CodeOrderNotFound      = "ORDER_NOT_FOUND"
	CodeOrderNotModifiable = "ORDER_NOT_MODIFIABLE"
	CodeNotOrderOwner      = "NOT_ORDER_OWNER"
	CodeInsufficientFunds  = "INSUFFICIENT_BALANCE"
	CodeMaxOrderValue      = "MAX_ORDER_VALUE_EXCEEDED"
	CodeDailyVolume        = "DAILY_VOLUME_EXCEEDED"
	CodeMaxOpenOrders      = "MAX_OPEN_ORDERS_EXCEEDED"
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType    `json:"code"`
	Message    string       `json:"message"`
	Suggestion string       `json:"suggestion,omitempty"`
	Fields     []FieldError `json:"fields,omitempty"`
	RetryAt    *time.Time   `json:"retry_at,omitempty"`
	HTTPStatus int          `json:"-"`
	Cause      error        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

// WithFields attaches field-level diagnostics.
func (e *AppError) WithFields(fields []FieldError) *AppError {
	e.Fields = fields
	return e
}

func NewRateLimited(resetAt time.Time) *AppError {
	err := New(ErrRateLimited, "rate limit exceeded", nil)
	err.RetryAt = &resetAt
	return err
}

func NewTransient(msg string, cause error) *AppError {
	return New(ErrTransient, msg, cause)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrValidationFailed, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// TypeOf reports the kind of err, INTERNAL_ERROR for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

// IsCritical reports whether the kind must escalate past the gateway.
func IsCritical(t ErrorType) bool {
	return t == ErrTransient || t == ErrInternal
}

func IsRetryable(t ErrorType) bool {
	return t == ErrTransient || t == ErrRateLimited
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidationFailed, ErrInsufficientFunds, ErrRiskLimit:
		return http.StatusUnprocessableEntity
	case ErrReferentialMissing, ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrTransient:
		return http.StatusServiceUnavailable
	case ErrCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRateLimited:
		return "Wait until retry_at before sending another request."
	case ErrValidationFailed:
		return "Correct the listed fields and resubmit."
	case ErrReferentialMissing:
		return "Check the trading pair and account identifiers."
	case ErrInsufficientFunds:
		return "Reduce the order size or fund the account."
	case ErrRiskLimit:
		return "Check order parameters against risk limits."
	case ErrTransient:
		return "Retry the request."
	case ErrUnauthorized:
		return "Check API keys."
	case ErrForbidden:
		return "The caller is not allowed to perform this action."
	default:
		return ""
	}
}
