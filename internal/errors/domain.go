// Package errors carries the error surface of the extraction service:
// a small domain taxonomy used inside the pipeline and services, and
// the RFC 7807 rendering used at the HTTP boundary.
package errors

import "fmt"

// ErrorType classifies an AppError. The pipeline only distinguishes
// three outcomes: the caller's document is unusable (INPUT), an engine
// failed (ENGINE), or a referenced resource does not exist (NOT_FOUND).
type ErrorType string

const (
	ErrTypeInput      ErrorType = "INPUT"
	ErrTypeEngine     ErrorType = "ENGINE"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeConflict   ErrorType = "CONFLICT"
)

// AppError is the typed error flowing out of the pipeline and services.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithContext attaches a key/value pair that the HTTP layer surfaces as
// a problem-details extension.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError builds a typed error wrapping an optional cause.
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errType, Message: message, Cause: cause}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == errType
}

// NewInputError marks a document that cannot be processed at all
// (missing, unreadable, or an unsupported format). Input errors are the
// only class surfaced to the caller as a hard failure.
func NewInputError(message string, cause error) *AppError {
	return NewAppError(ErrTypeInput, message, cause)
}

// NewEngineError marks a failed or timed-out extraction/reasoning
// service call. Engine errors are recovered locally by excluding that
// engine's contribution.
func NewEngineError(message string, cause error) *AppError {
	return NewAppError(ErrTypeEngine, message, cause)
}

// NewNotFoundError marks a lookup for a run or export that does not
// exist.
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, resource+" not found", nil)
}

// NewConflictError marks a request that collides with work already in
// progress, such as re-uploading a document whose run has not finished.
func NewConflictError(message string) *AppError {
	return NewAppError(ErrTypeConflict, message, nil)
}
