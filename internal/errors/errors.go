// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrConnectionExhausted = errors.New("reconnect attempts exhausted")
	ErrStoreClosed         = errors.New("store closed")
	ErrBusClosed           = errors.New("bus closed")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrNotFound            = errors.New("not found")
)

// StorageError reports a failed durable-store operation.
type StorageError struct {
	Op  string
	ID  int64
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("storage error [%s id=%d]: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("storage error [%s]: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError.
func NewStorageError(op string, id int64, err error) *StorageError {
	return &StorageError{
		Op:  op,
		ID:  id,
		Err: err,
	}
}

// NetworkError reports a transport failure or a non-2xx response.
// Status is zero when no response was received.
type NetworkError struct {
	Method string
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error [%s %s]: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("network error [%s %s]: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *NetworkError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == 429
}

// NewNetworkError creates a new NetworkError.
func NewNetworkError(method, path string, status int, body string, err error) *NetworkError {
	return &NetworkError{
		Method: method,
		Path:   path,
		Status: status,
		Body:   body,
		Err:    err,
	}
}

// ParseError reports a malformed push-channel payload.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v (payload %q)", e.Err, truncate(e.Payload, 120))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(payload []byte, err error) *ParseError {
	return &ParseError{
		Payload: string(payload),
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
