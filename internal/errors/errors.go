// Package errors provides structured error handling for ipprism operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeInternal      ErrorCode = "INTERNAL"

	// Reputation lookup errors.
	CodeTransport   ErrorCode = "TRANSPORT"
	CodeApplication ErrorCode = "APPLICATION"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// File system errors.
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
)

// LookupError represents a failure while looking up one address against a
// reputation service, or while processing that address afterwards.
type LookupError struct {
	Code    ErrorCode
	Message string
	Service string
	Address string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("[%s] %s (address: %s)", e.Code, e.Message, e.Address)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *LookupError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *LookupError) WithContext(key string, value interface{}) *LookupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewLookupError creates a new lookup error with the specified code and message.
func NewLookupError(code ErrorCode, service, message string) *LookupError {
	return &LookupError{
		Code:    code,
		Message: message,
		Service: service,
		Context: make(map[string]interface{}),
	}
}

// NewLookupErrorWithAddress creates a lookup error for a specific address.
func NewLookupErrorWithAddress(code ErrorCode, service, message, address string) *LookupError {
	return &LookupError{
		Code:    code,
		Message: message,
		Service: service,
		Address: address,
		Context: make(map[string]interface{}),
	}
}

// WrapLookupError wraps an existing error as a lookup error.
func WrapLookupError(code ErrorCode, service, message, address string, err error) *LookupError {
	return &LookupError{
		Code:    code,
		Message: message,
		Service: service,
		Address: address,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode extracts the error code from the first typed error in the chain.
func GetCode(err error) ErrorCode {
	var lookupErr *LookupError
	if stderrors.As(err, &lookupErr) {
		return lookupErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool {
	return IsCode(err, CodeConflict)
}

// IsFatal determines if an error indicates a fatal condition that should stop a run.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeDatabaseConnection, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrKeyNotConfigured creates the error returned when a service credential is absent.
func ErrKeyNotConfigured(service string) *LookupError {
	return NewLookupError(CodeConfiguration, service, "key not configured")
}

// ErrTransport creates an error for timeouts, DNS, TLS and connection failures.
func ErrTransport(service, address string, err error) *LookupError {
	return WrapLookupError(CodeTransport, service, fmt.Sprintf("API request failed: %v", err), address, err)
}

// ErrApplication creates an error for well-formed non-success responses. The
// server message is kept verbatim for display.
func ErrApplication(service, address, serverMessage string) *LookupError {
	return NewLookupErrorWithAddress(CodeApplication, service, serverMessage, address)
}

// ErrInternal creates an error for unexpected faults inside a unit of work.
func ErrInternal(address string, err error) *LookupError {
	return WrapLookupError(CodeInternal, "analysis", fmt.Sprintf("internal fault: %v", err), address, err)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
