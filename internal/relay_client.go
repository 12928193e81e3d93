package internal

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ZaguanLabs/angel/internal/relay"
)

// RelayClient sends requests through an angel relay. The relay owns the
// upstream key and model, so only an optional access token is needed here.
type RelayClient struct {
	httpSender
	url   string
	token string
}

// NewRelayClient creates a sender for the relay chat endpoint at url,
// e.g. http://localhost:8787/chat.
func NewRelayClient(url, token string, opts ...ClientOption) (*RelayClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("relay URL cannot be empty")
	}
	return &RelayClient{
		httpSender: newHTTPSender(opts),
		url:        strings.TrimSuffix(url, "/"),
		token:      strings.TrimSpace(token),
	}, nil
}

// Send implements Sender.
func (c *RelayClient) Send(ctx context.Context, req Request, onFragment func(string) error) (string, error) {
	t := req.Options.Temperature
	body := relay.ChatRequest{
		Messages:    req.Messages,
		Temperature: &t,
		MaxTokens:   req.Options.MaxTokens,
		Stream:      req.Options.Streaming,
		JSONMode:    req.Options.JSONMode,
	}

	c.logger.Debug("sending relay request",
		zap.String("url", c.url),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("stream", req.Options.Streaming),
	)

	resp, err := c.post(ctx, c.url, c.token, body, req.Options.Streaming)
	if err != nil {
		return "", err
	}
	return c.receive(ctx, resp, c.url, req.Options.Streaming, onFragment)
}
