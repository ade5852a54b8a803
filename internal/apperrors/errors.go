// Package apperrors provides the structured error type used across the
// orchestrator: a typed, HTTP-status-mapped, chainable error with a
// retryability classification the retry executor consults directly.
package apperrors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrorType is the closed set of error kinds the engine can produce.
type ErrorType string

const (
	ErrorTypeParse                   ErrorType = "parse"
	ErrorTypeValidation              ErrorType = "validation"
	ErrorTypeCyclicDependency        ErrorType = "cyclic_dependency"
	ErrorTypeStepNotFound            ErrorType = "step_not_found"
	ErrorTypeInvalidStepConfig       ErrorType = "invalid_step_config"
	ErrorTypeExecutionError          ErrorType = "execution_error"
	ErrorTypeTemplateError           ErrorType = "template_error"
	ErrorTypeContextVariableNotFound ErrorType = "context_variable_not_found"
	ErrorTypeInvalidStateTransition  ErrorType = "invalid_state_transition"
	ErrorTypeTimeout                 ErrorType = "timeout"
	ErrorTypeConcurrencyLimit        ErrorType = "concurrency_limit_exceeded"
	ErrorTypeProviderError           ErrorType = "provider_error"
	ErrorTypeIoError                 ErrorType = "io_error"
	ErrorTypeSerializationError      ErrorType = "serialization_error"
	ErrorTypeInternal                ErrorType = "other"
)

// statusCodes maps each error type to the HTTP status a transport layer
// fronting the engine would report for it.
var statusCodes = map[ErrorType]int{
	ErrorTypeParse:                   http.StatusBadRequest,
	ErrorTypeValidation:              http.StatusBadRequest,
	ErrorTypeCyclicDependency:        http.StatusBadRequest,
	ErrorTypeStepNotFound:            http.StatusNotFound,
	ErrorTypeInvalidStepConfig:       http.StatusBadRequest,
	ErrorTypeExecutionError:          http.StatusInternalServerError,
	ErrorTypeTemplateError:           http.StatusBadRequest,
	ErrorTypeContextVariableNotFound: http.StatusBadRequest,
	ErrorTypeInvalidStateTransition:  http.StatusConflict,
	ErrorTypeTimeout:                 http.StatusRequestTimeout,
	ErrorTypeConcurrencyLimit:        http.StatusTooManyRequests,
	ErrorTypeProviderError:           http.StatusBadGateway,
	ErrorTypeIoError:                 http.StatusInternalServerError,
	ErrorTypeSerializationError:      http.StatusInternalServerError,
	ErrorTypeInternal:                http.StatusInternalServerError,
}

// retryable holds the kinds the retry executor is allowed to retry.
// Only these three kinds are retryable; everything else short-circuits.
var retryable = map[ErrorType]bool{
	ErrorTypeTimeout:          true,
	ErrorTypeConcurrencyLimit: true,
	ErrorTypeProviderError:    true,
}

// AppError is the orchestrator's structured error.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

// New creates an AppError of the given type with no cause or details.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
	}
}

// Wrap wraps an existing error with an orchestrator error type.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCodes[t],
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details and returns the same error (mutates in place).
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets formatted Details and returns the same error.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the retry executor may retry this error.
func (e *AppError) IsRetryable() bool {
	return retryable[e.Type]
}

// Predefined constructors, mirroring the teacher's convenience
// constructors (NewValidationError, NewDatabaseError, etc.) generalized
// to the orchestrator's own error kinds.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewParseError(cause error, message string) *AppError {
	return Wrap(cause, ErrorTypeParse, message)
}

func NewCyclicDependencyError(cycle string) *AppError {
	return New(ErrorTypeCyclicDependency, "cyclic dependency detected").WithDetails(cycle)
}

func NewStepNotFoundError(stepID string) *AppError {
	return New(ErrorTypeStepNotFound, fmt.Sprintf("step not found: %s", stepID))
}

func NewInvalidStepConfigError(stepID, reason string) *AppError {
	return New(ErrorTypeInvalidStepConfig, fmt.Sprintf("invalid step config for %s", stepID)).WithDetails(reason)
}

func NewTemplateError(cause error, template string) *AppError {
	return Wrapf(cause, ErrorTypeTemplateError, "failed to render template: %s", template)
}

func NewContextVariableNotFoundError(name string) *AppError {
	return New(ErrorTypeContextVariableNotFound, fmt.Sprintf("context variable not found: %s", name))
}

func NewInvalidStateTransitionError(from, to string) *AppError {
	return New(ErrorTypeInvalidStateTransition, fmt.Sprintf("invalid transition from %s to %s", from, to))
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func NewConcurrencyLimitError() *AppError {
	return New(ErrorTypeConcurrencyLimit, "concurrency limit exceeded")
}

func NewProviderError(provider string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeProviderError, "provider %s failed", provider)
}

func NewIoError(cause error, operation string) *AppError {
	return Wrapf(cause, ErrorTypeIoError, "io operation failed: %s", operation)
}

func NewSerializationError(cause error) *AppError {
	return Wrap(cause, ErrorTypeSerializationError, "serialization failed")
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == t
	}
	return false
}

// GetType returns the error's type, or ErrorTypeInternal for non-AppErrors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether err should be retried by the retry
// executor. Non-AppErrors are treated as non-retryable.
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.IsRetryable()
	}
	return false
}

// safeMessages holds the generic messages surfaced to untrusted callers
// for error types whose raw Message may leak internal detail.
var safeMessages = map[ErrorType]string{
	ErrorTypeStepNotFound:           "the requested resource was not found",
	ErrorTypeTimeout:                "the operation timed out",
	ErrorTypeConcurrencyLimit:       "too many concurrent requests",
	ErrorTypeInvalidStateTransition: "the resource was modified concurrently",
	ErrorTypeDatabaseLike:           "An internal error occurred",
}

// ErrorTypeDatabaseLike groups the internal-only kinds (io, serialization,
// execution, internal) under one safe message, mirroring the teacher's
// treatment of database errors as a single generic-message bucket.
const ErrorTypeDatabaseLike ErrorType = "__database_like__"

func init() {
	for _, t := range []ErrorType{ErrorTypeIoError, ErrorTypeSerializationError, ErrorTypeExecutionError, ErrorTypeInternal} {
		safeMessages[t] = safeMessages[ErrorTypeDatabaseLike]
	}
}

// SafeErrorMessage returns a message safe to expose to an external
// caller: validation messages pass through verbatim (they describe the
// caller's own mistake), everything else is replaced by a generic
// message keyed by error type.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	if appErr.Type == ErrorTypeValidation {
		return appErr.Message
	}
	if msg, ok := safeMessages[appErr.Type]; ok {
		return msg
	}
	return "An unexpected error occurred"
}

// LogFields returns a logrus.Fields representation of err suitable for
// WithFields(...).Error(...) call sites.
func LogFields(err error) logrus.Fields {
	fields := logrus.Fields{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if all are nil,
// the single error unwrapped if only one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, e := range nonNil {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("%s", strings.Join(msgs, " -> "))
	}
}
