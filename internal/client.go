package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
)

const (
	defaultTimeout   = 30 * time.Second
	streamingTimeout = 120 * time.Second
)

// ClientOption configures the HTTP-backed senders.
type ClientOption func(*httpSender)

// WithHTTPClient replaces the client used for both plain and streaming
// requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *httpSender) {
		s.http = c
		s.streamHTTP = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(s *httpSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// httpSender holds what Client and RelayClient share.
type httpSender struct {
	http       *http.Client
	streamHTTP *http.Client
	logger     *zap.Logger
}

func newHTTPSender(opts []ClientOption) httpSender {
	s := httpSender{
		http:       &http.Client{Timeout: defaultTimeout},
		streamHTTP: &http.Client{Timeout: streamingTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// post sends payload to url and returns the response on a 2xx status.
// Anything else is decoded into an APIError.
func (s *httpSender) post(ctx context.Context, url, token string, payload any, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, angelerrors.NewValidationError("request", "encode request", nil, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, angelerrors.NewNetworkError(url, "create request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := s.http
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		client = s.streamHTTP
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, angelerrors.NewNetworkError(url, "execute request", 0, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		s.logger.Warn("backend returned an error status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return nil, decodeError(raw, resp.StatusCode)
	}
	return resp, nil
}

// receive reads a 2xx response as a stream or a single completion.
func (s *httpSender) receive(ctx context.Context, resp *http.Response, source string, stream bool, onFragment func(string) error) (string, error) {
	defer resp.Body.Close()

	if !stream {
		return decodeCompletion(resp.Body, source)
	}
	if onFragment == nil {
		onFragment = nopFragment
	}
	reply, err := readEventStream(resp.Body, source, s.logger, onFragment)
	if err != nil && ctx.Err() != nil {
		return reply, ctx.Err()
	}
	return reply, err
}

// Client talks to an OpenAI-compatible /chat/completions endpoint directly.
type Client struct {
	httpSender
	apiKey  string
	baseURL string
	model   string
}

// NewClient creates a new API client.
func NewClient(apiKey, baseURL, model string, opts ...ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	return &Client{
		httpSender: newHTTPSender(opts),
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}, nil
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string { return c.model }

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, req Request, onFragment func(string) error) (string, error) {
	if c == nil {
		return "", errors.New("client is nil")
	}

	body := chatCompletionRequest{
		Model:     c.model,
		Messages:  req.Messages,
		Stream:    req.Options.Streaming,
		MaxTokens: req.Options.MaxTokens,
	}
	// o3 models reject the temperature parameter.
	if !strings.HasPrefix(c.model, "o3") {
		t := req.Options.Temperature
		body.Temperature = &t
	}
	if req.Options.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	url := c.baseURL + "/chat/completions"
	c.logger.Debug("sending chat completion",
		zap.String("model", c.model),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("stream", req.Options.Streaming),
	)

	resp, err := c.post(ctx, url, c.apiKey, body, req.Options.Streaming)
	if err != nil {
		return "", err
	}
	return c.receive(ctx, resp, url, req.Options.Streaming, onFragment)
}
