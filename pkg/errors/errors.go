package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the token sent to clients, both in signaling error responses
// and in REST error bodies.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "invalidRequest"
	ErrCodeNotFound           ErrorCode = "notFound"
	ErrCodeNotInRoom          ErrorCode = "notInRoom"
	ErrCodeConflict           ErrorCode = "conflict"
	ErrCodeUnauthorized       ErrorCode = "unauthorized"
	ErrCodeRateLimit          ErrorCode = "rateLimited"
	ErrCodeTransportCreation  ErrorCode = "transportCreationFailed"
	ErrCodeConnect            ErrorCode = "connectFailed"
	ErrCodeProduce            ErrorCode = "produceFailed"
	ErrCodeCannotConsume      ErrorCode = "cannotConsume"
	ErrCodeConsume            ErrorCode = "consumeFailed"
	ErrCodeWorkerDied         ErrorCode = "workerDied"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeServiceUnavailable ErrorCode = "serviceUnavailable"
	ErrCodeInternal           ErrorCode = "internalError"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the client may repeat the same request.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case ErrCodeConsume, ErrCodeTimeout, ErrCodeServiceUnavailable, ErrCodeRateLimit:
		return true
	}
	return false
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// GetAppError extracts the first AppError from the error chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
