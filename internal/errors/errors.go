package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies failures by how a front end should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindMalformed marks a backend reply that could not be interpreted.
	KindMalformed
	// KindBackend marks network or upstream failures.
	KindBackend
	KindConfig
	KindValidation
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed_response"
	case KindBackend:
		return "backend"
	case KindConfig:
		return "config"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// AngelError is implemented by every error type in this package.
type AngelError interface {
	error
	Type() string
	Code() string
	Kind() Kind
	Cause() error
}

// APIError represents a non-2xx reply from a model backend or the relay.
type APIError struct {
	status  int
	message string
	errType string
	cause   error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("API error (status %d, type %s): %s (caused by: %v)", e.status, e.errType, e.message, e.cause)
	}
	return fmt.Sprintf("API error (status %d, type %s): %s", e.status, e.errType, e.message)
}

func (e *APIError) Type() string    { return "API" }
func (e *APIError) Code() string    { return fmt.Sprintf("API_%d", e.status) }
func (e *APIError) Kind() Kind      { return KindBackend }
func (e *APIError) Cause() error    { return e.cause }
func (e *APIError) Unwrap() error   { return e.cause }
func (e *APIError) Status() int     { return e.status }
func (e *APIError) Message() string { return e.message }
func (e *APIError) ErrType() string { return e.errType }

// MalformedResponseError is returned when a backend answered 2xx but the
// body lacks the expected shape.
type MalformedResponseError struct {
	source  string
	message string
	cause   error
}

func (e *MalformedResponseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("invalid response format from %s: %s (caused by: %v)", e.source, e.message, e.cause)
	}
	return fmt.Sprintf("invalid response format from %s: %s", e.source, e.message)
}

func (e *MalformedResponseError) Type() string  { return "MalformedResponse" }
func (e *MalformedResponseError) Code() string  { return "RESPONSE_MALFORMED" }
func (e *MalformedResponseError) Kind() Kind    { return KindMalformed }
func (e *MalformedResponseError) Cause() error  { return e.cause }
func (e *MalformedResponseError) Unwrap() error { return e.cause }

// ConfigError represents configuration-related errors
type ConfigError struct {
	field   string
	message string
	cause   error
}

func (e *ConfigError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("config error in field %q: %s (caused by: %v)", e.field, e.message, e.cause)
	}
	return fmt.Sprintf("config error in field %q: %s", e.field, e.message)
}

func (e *ConfigError) Type() string  { return "Config" }
func (e *ConfigError) Code() string  { return "CONFIG_INVALID" }
func (e *ConfigError) Kind() Kind    { return KindConfig }
func (e *ConfigError) Cause() error  { return e.cause }
func (e *ConfigError) Unwrap() error { return e.cause }
func (e *ConfigError) Field() string { return e.field }

// ValidationError represents input validation errors
type ValidationError struct {
	field   string
	message string
	value   interface{}
	cause   error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error for field %q: %s", e.field, e.message)
	if e.value != nil {
		msg = fmt.Sprintf("validation error for field %q with value %v: %s", e.field, e.value, e.message)
	}
	if e.cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.cause)
	}
	return msg
}

func (e *ValidationError) Type() string    { return "Validation" }
func (e *ValidationError) Code() string    { return "VALIDATION_FAILED" }
func (e *ValidationError) Kind() Kind      { return KindValidation }
func (e *ValidationError) Cause() error    { return e.cause }
func (e *ValidationError) Unwrap() error   { return e.cause }
func (e *ValidationError) Field() string   { return e.field }
func (e *ValidationError) Message() string { return e.message }

// StorageError represents database/storage-related errors
type StorageError struct {
	operation string
	message   string
	cause     error
}

func (e *StorageError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("storage error during %s operation: %s (caused by: %v)", e.operation, e.message, e.cause)
	}
	return fmt.Sprintf("storage error during %s operation: %s", e.operation, e.message)
}

func (e *StorageError) Type() string  { return "Storage" }
func (e *StorageError) Code() string  { return fmt.Sprintf("STORAGE_%s", e.operation) }
func (e *StorageError) Kind() Kind    { return KindStorage }
func (e *StorageError) Cause() error  { return e.cause }
func (e *StorageError) Unwrap() error { return e.cause }

// NetworkError represents transport failures talking to a backend.
type NetworkError struct {
	url     string
	message string
	status  int
	cause   error
}

func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("network error to %s: %s", e.url, e.message)
	if e.status > 0 {
		msg = fmt.Sprintf("network error to %s (status %d): %s", e.url, e.status, e.message)
	}
	if e.cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.cause)
	}
	return msg
}

func (e *NetworkError) Type() string  { return "Network" }
func (e *NetworkError) Code() string  { return "NETWORK_ERROR" }
func (e *NetworkError) Kind() Kind    { return KindBackend }
func (e *NetworkError) Cause() error  { return e.cause }
func (e *NetworkError) Unwrap() error { return e.cause }

// CommandError represents slash-command processing errors
type CommandError struct {
	command string
	message string
	cause   error
}

func (e *CommandError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("command error for %q: %s (caused by: %v)", e.command, e.message, e.cause)
	}
	return fmt.Sprintf("command error for %q: %s", e.command, e.message)
}

func (e *CommandError) Type() string    { return "Command" }
func (e *CommandError) Code() string    { return fmt.Sprintf("CMD_%s", e.command) }
func (e *CommandError) Kind() Kind      { return KindValidation }
func (e *CommandError) Cause() error    { return e.cause }
func (e *CommandError) Unwrap() error   { return e.cause }
func (e *CommandError) Message() string { return e.message }

// SessionError represents session management errors
type SessionError struct {
	sessionID int64
	message   string
	cause     error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("session error: %s", e.message)
	if e.sessionID > 0 {
		msg = fmt.Sprintf("session error (ID %d): %s", e.sessionID, e.message)
	}
	if e.cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.cause)
	}
	return msg
}

func (e *SessionError) Type() string  { return "Session" }
func (e *SessionError) Code() string  { return "SESSION_ERROR" }
func (e *SessionError) Kind() Kind    { return KindStorage }
func (e *SessionError) Cause() error  { return e.cause }
func (e *SessionError) Unwrap() error { return e.cause }

// NewAPIError creates a new API error
func NewAPIError(status int, msg, errType string, cause error) *APIError {
	return &APIError{status: status, message: msg, errType: errType, cause: cause}
}

// NewMalformedResponseError creates an error for an uninterpretable reply.
func NewMalformedResponseError(source, msg string, cause error) *MalformedResponseError {
	return &MalformedResponseError{source: source, message: msg, cause: cause}
}

// NewConfigError creates a new configuration error
func NewConfigError(field, msg string, cause error) *ConfigError {
	return &ConfigError{field: field, message: msg, cause: cause}
}

// NewValidationError creates a new validation error
func NewValidationError(field, msg string, value interface{}, cause error) *ValidationError {
	return &ValidationError{field: field, message: msg, value: value, cause: cause}
}

// NewStorageError creates a new storage error
func NewStorageError(operation, msg string, cause error) *StorageError {
	return &StorageError{operation: operation, message: msg, cause: cause}
}

// NewNetworkError creates a new network error
func NewNetworkError(url, msg string, status int, cause error) *NetworkError {
	return &NetworkError{url: url, message: msg, status: status, cause: cause}
}

// NewCommandError creates a new command error
func NewCommandError(command, msg string, cause error) *CommandError {
	return &CommandError{command: command, message: msg, cause: cause}
}

// NewSessionError creates a new session error
func NewSessionError(sessionID int64, msg string, cause error) *SessionError {
	return &SessionError{sessionID: sessionID, message: msg, cause: cause}
}

// KindOf reports the Kind of the first AngelError in err's chain.
func KindOf(err error) Kind {
	var ae AngelError
	if stderrors.As(err, &ae) {
		return ae.Kind()
	}
	return KindUnknown
}

// IsRetryable reports whether resending the same request may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindMalformed, KindBackend:
		return true
	}
	var secure *SecureError
	if stderrors.As(err, &secure) {
		return secure.retryable
	}
	return false
}

// RootCause follows Cause links to the innermost error.
func RootCause(err error) error {
	for {
		c, ok := err.(interface{ Cause() error })
		if !ok {
			return err
		}
		cause := c.Cause()
		if cause == nil {
			return err
		}
		err = cause
	}
}
