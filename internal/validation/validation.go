package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/transcript"
)

// Validation limits
const (
	MaxCommandLength     = 1000
	MaxUserMessageLength = 50000
	MaxRelayMessages     = 200
	MaxRelayBodyBytes    = 1 << 20
	MaxIdentifierLength  = 200
	MaxPathLength        = 500
	MaxAttachments       = 8
	MaxTokensLimit       = 32768
)

var (
	CommandPattern          = regexp.MustCompile(`^/[a-zA-Z0-9\s\-_./:@#]+$`)
	CommandInjectionPattern = regexp.MustCompile(`(;|\|\||&&|\$\(|\$\{|<\(|>\(|\n|\r)`)
	ModelNamePattern        = regexp.MustCompile(`^[a-zA-Z0-9\-._/:]+$`)
	URLPattern              = regexp.MustCompile(`^https?://[a-zA-Z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
	PathTraversalPattern    = regexp.MustCompile(`(\.\./|\.\.\\)`)
	ImageExtensionPattern   = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|svg)$`)
)

// ValidateCommand validates a slash command typed into a front end.
func ValidateCommand(input string) error {
	if input == "" {
		return angelerrors.NewValidationError("command", "command cannot be empty", nil, nil)
	}
	if len(input) > MaxCommandLength {
		return angelerrors.NewValidationError("command", fmt.Sprintf("command too long (max %d characters)", MaxCommandLength), nil, nil)
	}
	if !CommandPattern.MatchString(input) {
		return angelerrors.NewValidationError("command", "command contains invalid characters", input, nil)
	}
	if CommandInjectionPattern.MatchString(input) {
		return angelerrors.NewValidationError("command", "command appears to contain an injection attempt", nil, nil)
	}
	return nil
}

// ValidateMessage validates a chat message before it becomes a user turn.
// Model output is never validated here; it is escaped at render time.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return angelerrors.NewValidationError("message", "message cannot be empty", nil, nil)
	}
	if len(message) > MaxUserMessageLength {
		return angelerrors.NewValidationError("message", fmt.Sprintf("message too long (max %d characters)", MaxUserMessageLength), nil, nil)
	}
	if strings.Contains(message, "\x00") {
		return angelerrors.NewValidationError("message", "message contains null bytes", nil, nil)
	}
	if !IsPrintable(message) {
		return angelerrors.NewValidationError("message", "message contains non-printable characters", nil, nil)
	}
	return nil
}

// ValidateAttachment accepts an http(s) URL or a local image path.
func ValidateAttachment(ref string) error {
	switch {
	case ref == "":
		return angelerrors.NewValidationError("attachment", "attachment cannot be empty", nil, nil)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ValidateURL(ref)
	}
	if len(ref) > MaxPathLength {
		return angelerrors.NewValidationError("attachment", fmt.Sprintf("path too long (max %d characters)", MaxPathLength), nil, nil)
	}
	if PathTraversalPattern.MatchString(ref) {
		return angelerrors.NewValidationError("attachment", "path contains directory traversal", ref, nil)
	}
	if !ImageExtensionPattern.MatchString(ref) {
		return angelerrors.NewValidationError("attachment", "only image attachments are supported", ref, nil)
	}
	return nil
}

// ValidateAttachments validates every reference and the count.
func ValidateAttachments(refs []string) error {
	if len(refs) > MaxAttachments {
		return angelerrors.NewValidationError("attachments", fmt.Sprintf("too many attachments (max %d)", MaxAttachments), len(refs), nil)
	}
	for _, r := range refs {
		if err := ValidateAttachment(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL validates URLs
func ValidateURL(url string) error {
	if url == "" {
		return angelerrors.NewValidationError("url", "URL cannot be empty", nil, nil)
	}
	if len(url) > 1000 {
		return angelerrors.NewValidationError("url", "URL too long", nil, nil)
	}
	if !URLPattern.MatchString(url) {
		return angelerrors.NewValidationError("url", "invalid URL format", url, nil)
	}
	return nil
}

// ValidateModelName validates model identifiers
func ValidateModelName(model string) error {
	if model == "" {
		return angelerrors.NewValidationError("model", "model name cannot be empty", nil, nil)
	}
	if len(model) > MaxIdentifierLength {
		return angelerrors.NewValidationError("model", "model name too long (max 200 characters)", nil, nil)
	}
	if !ModelNamePattern.MatchString(model) {
		return angelerrors.NewValidationError("model", "model name contains invalid characters", model, nil)
	}
	return nil
}

// ValidateTemperature validates the sampling temperature
func ValidateTemperature(temp float64) error {
	if temp < 0.0 || temp > 2.0 {
		return angelerrors.NewValidationError("temperature", fmt.Sprintf("temperature must be between 0.0 and 2.0, got %.2f", temp), temp, nil)
	}
	return nil
}

// ValidateMaxTokens accepts zero (backend default) or a positive bound.
func ValidateMaxTokens(n int) error {
	if n < 0 || n > MaxTokensLimit {
		return angelerrors.NewValidationError("max_tokens", fmt.Sprintf("max_tokens must be between 1 and %d", MaxTokensLimit), n, nil)
	}
	return nil
}

// ValidateRelayMessages checks the message list of a relay request: at
// least one message, known roles, a system message only at index 0, and
// non-empty user content.
func ValidateRelayMessages(messages []transcript.Message) error {
	if len(messages) == 0 {
		return angelerrors.NewValidationError("messages", "messages cannot be empty", nil, nil)
	}
	if len(messages) > MaxRelayMessages {
		return angelerrors.NewValidationError("messages", fmt.Sprintf("too many messages (max %d)", MaxRelayMessages), len(messages), nil)
	}
	for i, m := range messages {
		role := transcript.Role(m.Role)
		if !role.Valid() {
			return angelerrors.NewValidationError(fmt.Sprintf("messages[%d].role", i), "unknown role", m.Role, nil)
		}
		if role == transcript.RoleSystem && i != 0 {
			return angelerrors.NewValidationError(fmt.Sprintf("messages[%d].role", i), "system message is only allowed first", nil, nil)
		}
		if role == transcript.RoleUser && strings.TrimSpace(m.Content) == "" {
			return angelerrors.NewValidationError(fmt.Sprintf("messages[%d].content", i), "user message cannot be empty", nil, nil)
		}
		if len(m.Content) > MaxUserMessageLength*4 {
			return angelerrors.NewValidationError(fmt.Sprintf("messages[%d].content", i), "message too long", nil, nil)
		}
	}
	return nil
}

// SanitizeInput trims surrounding whitespace, strips null bytes and caps
// the length without splitting a UTF-8 sequence.
func SanitizeInput(input string, maxLength int) string {
	trimmed := strings.TrimSpace(strings.ReplaceAll(input, "\x00", ""))
	if len(trimmed) <= maxLength {
		return trimmed
	}
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut]
}

// IsPrintable checks if string contains only printable characters
func IsPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
