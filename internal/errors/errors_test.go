package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"api", NewAPIError(502, "bad gateway", "upstream_error", nil), KindBackend},
		{"network", NewNetworkError("http://x", "dial failed", 0, context.DeadlineExceeded), KindBackend},
		{"malformed", NewMalformedResponseError("relay", "missing choices", nil), KindMalformed},
		{"wrapped", fmt.Errorf("send: %w", NewMalformedResponseError("relay", "x", nil)), KindMalformed},
		{"config", NewConfigError("api.key", "missing", nil), KindConfig},
		{"plain", stderrors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError(500, "x", "server_error", nil)))
	assert.True(t, IsRetryable(NewMalformedResponseError("openai", "x", nil)))
	assert.True(t, IsRetryable(NewRetryableError(NewNetworkError("u", "m", 0, nil))))
	assert.False(t, IsRetryable(NewValidationError("message", "empty", nil, nil)))
	assert.False(t, IsRetryable(nil))
}

func TestUnwrapChain(t *testing.T) {
	err := NewNetworkError("http://api", "request failed", 0, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, context.Canceled, RootCause(err))

	wrapped := NewRetryableError(err)
	var ne *NetworkError
	require.ErrorAs(t, wrapped, &ne)
	assert.Equal(t, "NETWORK_ERROR", ne.Code())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, RetryNotice, UserMessage(NewMalformedResponseError("relay", "no choices", nil)))
	assert.Equal(t, RetryNotice, UserMessage(fmt.Errorf("x: %w", NewAPIError(503, "overloaded", "server_error", nil))))
	assert.Equal(t, RetryNotice, UserMessage(NewRetryableError(stderrors.New("dial tcp 10.0.0.1:443"))))
	assert.Equal(t, "message cannot be empty", UserMessage(NewValidationError("message", "message cannot be empty", nil, nil)))
	assert.Empty(t, UserMessage(nil))
}

func TestSecureErrorLevels(t *testing.T) {
	orig := GetErrorSecurityLevel()
	defer SetErrorSecurityLevel(orig)

	se := NewSecureError("failed to read /etc/angel/config.yaml", "permission denied", "CONFIG_READ", nil)

	SetErrorSecurityLevel(ErrorLevelProduction)
	assert.Equal(t, "failed to read [PATH]", se.Error())

	SetErrorSecurityLevel(ErrorLevelInfo)
	assert.Equal(t, "failed to read [PATH] (Code: CONFIG_READ)", se.Error())

	SetErrorSecurityLevel(ErrorLevelDebug)
	assert.Contains(t, se.Error(), "Detail: permission denied")
}

func TestSanitizePublicMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"api_key=sk-abcdefgh12345", "[CREDENTIAL]"},
		{"cannot reach 192.168.1.10", "cannot reach [IP]"},
		{"mail ops@example.com", "mail [EMAIL]"},
		{"Unauthorized request", "access issue request"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizePublicMessage(tt.in), tt.in)
	}
}

func TestParseSecurityLevel(t *testing.T) {
	assert.Equal(t, ErrorLevelDebug, ParseSecurityLevel("DEBUG"))
	assert.Equal(t, ErrorLevelInfo, ParseSecurityLevel("info"))
	assert.Equal(t, ErrorLevelProduction, ParseSecurityLevel("warn"))
}
