package logger

import (
	"errors"
	"fmt"
)

// ErrorType categorises failures by how the pipeline reacts to them.
type ErrorType string

const (
	// ErrorTypeTransient covers timeouts, connection errors, 429 and 5xx.
	ErrorTypeTransient ErrorType = "TRANSIENT_NETWORK"
	// ErrorTypeAbsent is an authoritative "no such record" answer.
	ErrorTypeAbsent ErrorType = "AUTHORITATIVE_ABSENT"
	// ErrorTypeArchive is a corrupt or unsupported archive stream.
	ErrorTypeArchive ErrorType = "ARCHIVE_MALFORMED"
	// ErrorTypeDepth marks a nested archive beyond the recursion bound.
	ErrorTypeDepth ErrorType = "RECURSION_BOUND_EXCEEDED"
	// ErrorTypeFilesystem covers copy/delete failures on single files.
	ErrorTypeFilesystem ErrorType = "FILESYSTEM"
	// ErrorTypeConfig is a startup configuration problem.
	ErrorTypeConfig ErrorType = "CONFIG"
	// ErrorTypeInternal is anything unexpected, including recovered panics.
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError represents an application-specific error with context.
type AppError struct {
	Type     ErrorType
	Message  string
	Code     string
	Cause    error
	Metadata map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error.
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithCode creates a new application error with an error code.
func NewAppErrorWithCode(errorType ErrorType, message, code string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Code:    code,
		Cause:   cause,
	}
}

// ErrorHandler provides centralized error handling and logging.
type ErrorHandler struct {
	logger *Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err and returns it as an *AppError.
func (eh *ErrorHandler) Handle(err error, context string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		eh.logger.Error(fmt.Sprintf("%s: %s", context, appErr.Message), err, appErr.Metadata)
		return appErr
	}

	eh.logger.Error(fmt.Sprintf("%s: unexpected error", context), err)
	return NewAppError(ErrorTypeInternal, context, err)
}

// Recover converts a recovered panic value into an error. It must be called
// from a deferred function with the value returned by recover().
func (eh *ErrorHandler) Recover(r interface{}, context string) error {
	if r == nil {
		return nil
	}
	err := fmt.Errorf("panic recovered: %v", r)
	eh.logger.Error(fmt.Sprintf("%s: panic occurred", context), err)
	return NewAppError(ErrorTypeInternal, "panic recovered", err)
}

// WrapError wraps an existing error with a type and message.
func WrapError(err error, errorType ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return NewAppError(errorType, message, err)
}

// IsErrorType reports whether err (or anything it wraps) is an AppError of the given type.
func IsErrorType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}
