package errors

import (
	"errors"
	"fmt"
)

// --- cumetrics Error Types ---

// EncodingError is returned by Render when the current metric snapshot could
// not be serialized into the exposition format. It is never retried
// internally; a later scrape is independent and may succeed.
type EncodingError struct {
	Message string
	Cause   error
}

func NewEncodingError(message string, cause error) *EncodingError {
	return &EncodingError{Message: message, Cause: cause}
}
func (e *EncodingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("encoding error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("encoding error: %s", e.Message)
}
func (e *EncodingError) Unwrap() error { return e.Cause }

// IsEncoding reports whether err is, or wraps, an EncodingError.
func IsEncoding(err error) bool {
	var encErr *EncodingError
	return errors.As(err, &encErr)
}

// ConfigError represents an error encountered while reading or parsing the
// daemon configuration.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that the configuration was parsed but failed the
// schema, version or logical checks.
type ValidationError struct {
	Field   string // Offending field, empty when the error is document-wide.
	Message string
	Cause   error
}

func NewValidationError(field, message string, cause error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error: %s", e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("validation error: field '%s': %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}
func (e *ValidationError) Unwrap() error { return e.Cause }
