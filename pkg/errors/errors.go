// Package errors defines the error taxonomy shared by the linker packages.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeUnknown                 = "UNKNOWN_ERROR"
	CodeInvalidClassFormat      = "INVALID_CLASS_FORMAT"
	CodeNotFound                = "NOT_FOUND"
	CodeLinkage                 = "LINKAGE_ERROR"
	CodeClassCircularity        = "CLASS_CIRCULARITY"
	CodeIncompatibleClassChange = "INCOMPATIBLE_CLASS_CHANGE"
	CodeInitialization          = "INITIALIZATION_ERROR"
	CodeInternal                = "INTERNAL_ERROR"
	CodeConfigError             = "CONFIG_ERROR"
	CodeStorageError            = "STORAGE_ERROR"
	CodeDatabaseError           = "DATABASE_ERROR"
)

// AppError represents an error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrInvalidClassFormat      = New(CodeInvalidClassFormat, "invalid class format")
	ErrNotFound                = New(CodeNotFound, "resource not found")
	ErrLinkage                 = New(CodeLinkage, "linkage error")
	ErrClassCircularity        = New(CodeClassCircularity, "class circularity")
	ErrIncompatibleClassChange = New(CodeIncompatibleClassChange, "incompatible class change")
	ErrInitialization          = New(CodeInitialization, "initialization error")
	ErrInternal                = New(CodeInternal, "internal error")
	ErrConfigError             = New(CodeConfigError, "configuration error")
	ErrStorageError            = New(CodeStorageError, "storage error")
	ErrDatabaseError           = New(CodeDatabaseError, "database error")
)

// InvalidClassFormat reports malformed class bytes for the named type.
func InvalidClassFormat(className string, format string, args ...interface{}) *AppError {
	return Newf(CodeInvalidClassFormat, "%s: %s", className, fmt.Sprintf(format, args...))
}

// Linkage reports a linkage violation for a type and loader.
func Linkage(className, loader string, format string, args ...interface{}) *AppError {
	return Newf(CodeLinkage, "%s (loader %s): %s", className, loader, fmt.Sprintf(format, args...))
}

// IncompatibleClassChange reports a structurally illegal class relationship.
func IncompatibleClassChange(className string, format string, args ...interface{}) *AppError {
	return Newf(CodeIncompatibleClassChange, "%s: %s", className, fmt.Sprintf(format, args...))
}

// Internal panics with an internal-invariant error. It never returns.
func Internal(format string, args ...interface{}) {
	panic(Newf(CodeInternal, format, args...))
}

// IsInvalidClassFormat checks if the error is an invalid class format error.
func IsInvalidClassFormat(err error) bool {
	return errors.Is(err, ErrInvalidClassFormat)
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsLinkageError checks if the error is a linkage error.
func IsLinkageError(err error) bool {
	return errors.Is(err, ErrLinkage)
}

// IsClassCircularity checks if the error is a class circularity error.
func IsClassCircularity(err error) bool {
	return errors.Is(err, ErrClassCircularity)
}

// IsIncompatibleClassChange checks if the error is an incompatible class change.
func IsIncompatibleClassChange(err error) bool {
	return errors.Is(err, ErrIncompatibleClassChange)
}

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsStorageError checks if the error is a storage error.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageError)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
