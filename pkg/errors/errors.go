// Package errors defines the error taxonomy shared by the auth engine.
package errors

import (
	"fmt"
)

// Error types
const (
	// ErrConfiguration is returned when an auth declaration is malformed or incomplete
	ErrConfiguration = "configuration"

	// ErrStoreUnavailable is returned when the credential store cannot be reached
	ErrStoreUnavailable = "store_unavailable"

	// ErrOAuthFetch is returned when the token endpoint rejects a fetch or refresh
	ErrOAuthFetch = "oauth_fetch"

	// ErrNetwork is returned for timeouts and connection failures against the target API
	ErrNetwork = "network"

	// ErrAuthExhausted is returned when every auth method in a chain was rejected
	ErrAuthExhausted = "auth_exhausted"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrConfiguration, message, cause)
}

// NewStoreUnavailableError creates a new store unavailable error
func NewStoreUnavailableError(message string, cause error) *Error {
	return NewError(ErrStoreUnavailable, message, cause)
}

// NewOAuthFetchError creates a new OAuth fetch error
func NewOAuthFetchError(message string, cause error) *Error {
	return NewError(ErrOAuthFetch, message, cause)
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *Error {
	return NewError(ErrNetwork, message, cause)
}

// NewAuthExhaustedError creates a new auth exhausted error
func NewAuthExhaustedError(message string, cause error) *Error {
	return NewError(ErrAuthExhausted, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	e, ok := err.(*Error)
	return ok && e.Type == errorType
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	return isType(err, ErrConfiguration)
}

// IsStoreUnavailable checks if the error is a store unavailable error
func IsStoreUnavailable(err error) bool {
	return isType(err, ErrStoreUnavailable)
}

// IsOAuthFetch checks if the error is an OAuth fetch error
func IsOAuthFetch(err error) bool {
	return isType(err, ErrOAuthFetch)
}

// IsNetwork checks if the error is a network error
func IsNetwork(err error) bool {
	return isType(err, ErrNetwork)
}

// IsAuthExhausted checks if the error is an auth exhausted error
func IsAuthExhausted(err error) bool {
	return isType(err, ErrAuthExhausted)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}
