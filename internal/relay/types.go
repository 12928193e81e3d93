package relay

import (
	"time"

	"github.com/ZaguanLabs/angel/internal/transcript"
)

// ChatRequest is the body accepted by POST /chat.
type ChatRequest struct {
	Messages    []transcript.Message `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream"`
	JSONMode    bool                 `json:"json_mode"`
}

// ErrorBody describes a relay failure.
type ErrorBody struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the JSON object returned with every non-2xx status.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error types carried in ErrorBody.Type.
const (
	ErrTypeInvalidRequest = "invalid_request"
	ErrTypeUnauthorized   = "unauthorized"
	ErrTypeRateLimited    = "rate_limited"
	ErrTypeUpstream       = "upstream_error"
	ErrTypeInternal       = "internal_error"
)

// upstreamRequest is the OpenAI-compatible body sent upstream.
type upstreamRequest struct {
	Model          string               `json:"model"`
	Messages       []transcript.Message `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Stream         bool                 `json:"stream"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}
