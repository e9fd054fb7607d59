// Package errors defines the error taxonomy shared by feeds, data sources and
// the rebalancing manager. Every error carries a stable code and the HTTP
// status the API layer reports for it.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code string

const (
	CodeTooEarly           Code = "too_early"
	CodeInsufficientData   Code = "insufficient_data"
	CodeAllocationTooClose Code = "allocation_too_close"
	CodeInvalidState       Code = "invalid_state"
	CodeUnauthorized       Code = "unauthorized"
	CodeOracleUnavailable  Code = "oracle_unavailable"
	CodePropagatedRevert   Code = "propagated_revert"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeNotFound           Code = "not_found"
	CodeRateLimitExceeded  Code = "rate_limit_exceeded"
)

// ServiceError is the concrete error type returned across package boundaries.
type ServiceError struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any *ServiceError carrying the same code, so the sentinels below
// work with errors.Is regardless of message or details.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail attaches a key/value pair and returns the receiver.
func (e *ServiceError) WithDetail(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrTooEarly           = &ServiceError{Code: CodeTooEarly}
	ErrInsufficientData   = &ServiceError{Code: CodeInsufficientData}
	ErrAllocationTooClose = &ServiceError{Code: CodeAllocationTooClose}
	ErrInvalidState       = &ServiceError{Code: CodeInvalidState}
	ErrUnauthorized       = &ServiceError{Code: CodeUnauthorized}
	ErrOracleUnavailable  = &ServiceError{Code: CodeOracleUnavailable}
	ErrPropagatedRevert   = &ServiceError{Code: CodePropagatedRevert}
	ErrInvalidArgument    = &ServiceError{Code: CodeInvalidArgument}
	ErrNotFound           = &ServiceError{Code: CodeNotFound}
)

// TooEarly reports a gated update attempted before the schedule allows it.
func TooEarly(now, nextAvailable uint64) *ServiceError {
	return (&ServiceError{
		Code:       CodeTooEarly,
		Message:    fmt.Sprintf("update not available until %d (now %d)", nextAvailable, now),
		HTTPStatus: http.StatusConflict,
	}).WithDetail("now", now).WithDetail("next_available_update", nextAvailable)
}

// InsufficientData reports a read window larger than the stored history.
func InsufficientData(requested, available int) *ServiceError {
	return (&ServiceError{
		Code:       CodeInsufficientData,
		Message:    fmt.Sprintf("requested %d data points, %d available", requested, available),
		HTTPStatus: http.StatusUnprocessableEntity,
	}).WithDetail("requested", requested).WithDetail("available", available)
}

// AllocationTooClose reports an allocation still inside the configured band.
func AllocationTooClose(percent, lower, upper uint64) *ServiceError {
	return (&ServiceError{
		Code:       CodeAllocationTooClose,
		Message:    fmt.Sprintf("allocation %d%% is within (%d, %d)", percent, lower, upper),
		HTTPStatus: http.StatusUnprocessableEntity,
	}).WithDetail("allocation", percent).WithDetail("lower", lower).WithDetail("upper", upper)
}

// InvalidState reports an external phase that does not permit the operation.
func InvalidState(format string, args ...any) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidState,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusConflict,
	}
}

// Unauthorized reports a caller lacking the required role.
func Unauthorized(caller, action string) *ServiceError {
	return (&ServiceError{
		Code:       CodeUnauthorized,
		Message:    fmt.Sprintf("%s is not allowed to %s", caller, action),
		HTTPStatus: http.StatusForbidden,
	}).WithDetail("caller", caller)
}

// OracleUnavailable wraps an upstream price read failure.
func OracleUnavailable(source string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeOracleUnavailable,
		Message:    fmt.Sprintf("price source %s unavailable", source),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// PropagatedRevert wraps a failed call into the basket token.
func PropagatedRevert(operation string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodePropagatedRevert,
		Message:    fmt.Sprintf("%s reverted", operation),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// InvalidArgument reports bad input or configuration.
func InvalidArgument(format string, args ...any) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidArgument,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound reports an unknown resource.
func NotFound(kind, id string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %s not found", kind, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// RateLimitExceeded is returned by the HTTP rate limiter.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// HTTPStatusOf maps err to an HTTP status, defaulting to 500.
func HTTPStatusOf(err error) int {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) && svcErr.HTTPStatus != 0 {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the code of the outermost ServiceError in err's chain.
func CodeOf(err error) Code {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}
