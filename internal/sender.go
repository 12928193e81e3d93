package internal

import (
	"context"
	"strings"

	"github.com/ZaguanLabs/angel/internal/transcript"
)

// Message represents a single chat message.
type Message = transcript.Message

// Options are the request knobs every backend understands.
type Options struct {
	Temperature float64
	MaxTokens   int
	Streaming   bool
	JSONMode    bool
}

// Request is one send operation.
type Request struct {
	Messages []Message
	Options  Options
}

// Prompt flattens the messages into one newline-joined string for backends
// that take a single prompt.
func (r Request) Prompt() string {
	parts := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// Sender sends a request to a model backend.
//
// With Options.Streaming set, onFragment is called with each fragment in
// order and the returned string is their concatenation. An error from
// onFragment aborts the stream and is returned. Without streaming,
// onFragment is not called and the final string is returned.
type Sender interface {
	Send(ctx context.Context, req Request, onFragment func(string) error) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request, onFragment func(string) error) (string, error)

func (f SenderFunc) Send(ctx context.Context, req Request, onFragment func(string) error) (string, error) {
	return f(ctx, req, onFragment)
}

func nopFragment(string) error { return nil }
