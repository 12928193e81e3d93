package errors

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// ErrorSecurityLevel defines the level of detail in error messages
type ErrorSecurityLevel int

const (
	// ErrorLevelDebug provides full error details for debugging
	ErrorLevelDebug ErrorSecurityLevel = iota
	// ErrorLevelInfo provides general error information
	ErrorLevelInfo
	// ErrorLevelProduction provides minimal, sanitized error messages
	ErrorLevelProduction
)

// RetryNotice is what a user sees when a reply could not be produced.
const RetryNotice = "Something went wrong while getting a response. Please try again."

var globalErrorSecurityLevel = ErrorLevelProduction

// SetErrorSecurityLevel sets the global error security level
func SetErrorSecurityLevel(level ErrorSecurityLevel) {
	globalErrorSecurityLevel = level
}

// GetErrorSecurityLevel returns the current error security level
func GetErrorSecurityLevel() ErrorSecurityLevel {
	return globalErrorSecurityLevel
}

// ParseSecurityLevel maps a log level name onto an error detail level.
func ParseSecurityLevel(level string) ErrorSecurityLevel {
	switch strings.ToLower(level) {
	case "debug":
		return ErrorLevelDebug
	case "info":
		return ErrorLevelInfo
	default:
		return ErrorLevelProduction
	}
}

// SecureError carries a public message for users and a detail message for
// logs. Which one Error returns depends on the global security level.
type SecureError struct {
	publicMessage string
	detailMessage string
	errorCode     string
	retryable     bool
	cause         error
	stackTrace    []string
}

// NewSecureError creates a new secure error
func NewSecureError(publicMsg, detailMsg, errorCode string, cause error) *SecureError {
	se := &SecureError{
		publicMessage: sanitizePublicMessage(publicMsg),
		detailMessage: detailMsg,
		errorCode:     errorCode,
		cause:         cause,
	}
	if globalErrorSecurityLevel == ErrorLevelDebug {
		se.captureStackTrace()
	}
	return se
}

func (se *SecureError) Error() string {
	switch globalErrorSecurityLevel {
	case ErrorLevelDebug:
		return se.debugMessage()
	case ErrorLevelInfo:
		if se.errorCode != "" {
			return fmt.Sprintf("%s (Code: %s)", se.PublicMessage(), se.errorCode)
		}
		return se.PublicMessage()
	default:
		return se.PublicMessage()
	}
}

// PublicMessage is safe to show to end users.
func (se *SecureError) PublicMessage() string {
	if se.publicMessage != "" {
		return se.publicMessage
	}
	return "An error occurred. Please try again or contact support if the issue persists."
}

func (se *SecureError) Code() string   { return se.errorCode }
func (se *SecureError) Retryable() bool { return se.retryable }
func (se *SecureError) Unwrap() error  { return se.cause }

func (se *SecureError) debugMessage() string {
	var parts []string
	if se.publicMessage != "" {
		parts = append(parts, "Public: "+se.publicMessage)
	}
	if se.detailMessage != "" {
		parts = append(parts, "Detail: "+se.detailMessage)
	}
	if se.errorCode != "" {
		parts = append(parts, "Code: "+se.errorCode)
	}
	if se.cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", se.cause))
	}
	if len(se.stackTrace) > 0 {
		parts = append(parts, "Stack: "+strings.Join(se.stackTrace, " -> "))
	}
	if len(parts) == 0 {
		return "Unknown error"
	}
	return strings.Join(parts, " | ")
}

func (se *SecureError) captureStackTrace() {
	pc := make([]uintptr, 10)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		se.stackTrace = append(se.stackTrace, fmt.Sprintf("%s:%d", frame.File, frame.Line))
		if !more {
			break
		}
	}
}

var (
	pathPattern       = regexp.MustCompile(`[a-zA-Z]:\\[^\s]+|/[^\s]+`)
	ipPattern         = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	credentialPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token|bearer)["\s]*[:=]?["\s]*[a-zA-Z0-9_.-]{8,}`)
	accessPattern     = regexp.MustCompile(`(?i)(connection refused|permission denied|access denied|unauthorized|forbidden)`)
)

// sanitizePublicMessage strips paths, addresses and credentials.
func sanitizePublicMessage(msg string) string {
	if msg == "" {
		return ""
	}
	sanitized := credentialPattern.ReplaceAllString(msg, "[CREDENTIAL]")
	sanitized = pathPattern.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipPattern.ReplaceAllString(sanitized, "[IP]")
	sanitized = emailPattern.ReplaceAllString(sanitized, "[EMAIL]")
	return accessPattern.ReplaceAllString(sanitized, "access issue")
}

// NewRetryableError wraps a backend or malformed-response failure with the
// generic notification shown to users.
func NewRetryableError(cause error) *SecureError {
	se := NewSecureError(RetryNotice, fmt.Sprint(cause), "RESPONSE_"+strings.ToUpper(KindOf(cause).String()), cause)
	se.retryable = true
	return se
}

// UserMessage returns the text a front end shows for err. Backend and
// malformed-response failures collapse into RetryNotice; validation problems
// keep their message so users can fix their input.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve.Message()
	}
	var ce *CommandError
	if stderrors.As(err, &ce) {
		return ce.Message()
	}
	var se *SecureError
	if stderrors.As(err, &se) {
		return se.PublicMessage()
	}
	switch KindOf(err) {
	case KindMalformed, KindBackend:
		return RetryNotice
	case KindConfig:
		return sanitizePublicMessage(err.Error())
	}
	return "An error occurred. Please try again or contact support if the issue persists."
}
