package internal

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient calls Google Gemini directly. Gemini receives the flattened
// prompt of the request rather than a message list.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini sender. baseURL may be empty to use the
// public endpoint.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, logger *zap.Logger) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, angelerrors.NewConfigError("api.key", "failed to create Gemini client", err)
	}

	return &GeminiClient{client: client, model: model, logger: logger}, nil
}

// Model returns the Gemini model identifier.
func (g *GeminiClient) Model() string { return g.model }

func (g *GeminiClient) generateConfig(opts Options) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// Send implements Sender.
func (g *GeminiClient) Send(ctx context.Context, req Request, onFragment func(string) error) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt(), genai.RoleUser),
	}
	cfg := g.generateConfig(req.Options)
	source := "gemini:" + g.model

	g.logger.Debug("sending gemini request",
		zap.String("model", g.model),
		zap.Int("prompt_len", len(req.Prompt())),
		zap.Bool("stream", req.Options.Streaming),
	)

	if !req.Options.Streaming {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return "", g.wrap(ctx, source, err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return "", angelerrors.NewMalformedResponseError(source, "no candidates in response", nil)
		}
		return resp.Text(), nil
	}

	if onFragment == nil {
		onFragment = nopFragment
	}
	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			return full.String(), g.wrap(ctx, source, err)
		}
		fragment := resp.Text()
		if fragment == "" {
			continue
		}
		full.WriteString(fragment)
		if err := onFragment(fragment); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

func (g *GeminiClient) wrap(ctx context.Context, source string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	g.logger.Warn("gemini request failed", zap.Error(err))
	return angelerrors.NewNetworkError(source, "generate content", 0, err)
}
