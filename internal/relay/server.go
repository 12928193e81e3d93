// Package relay implements the one-hop chat relay: clients post a transcript,
// the relay adds the upstream key and model and forwards the request to an
// OpenAI-compatible endpoint, passing completions and event streams back.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/ZaguanLabs/angel/internal/config"
	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/security"
	"github.com/ZaguanLabs/angel/internal/validation"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "POST, GET, OPTIONS"
	upstreamTimeout  = 5 * time.Minute
	streamTimeout    = 30 * time.Minute
)

// Server is the relay HTTP server.
type Server struct {
	mu  sync.RWMutex
	cfg config.RelayConfig

	limiter *security.RateLimiter
	logger  *zap.Logger
	app     *fiber.App
	now     func() time.Time

	// streamClient has no overall timeout; http.Client.Timeout would also
	// cut off reading a long event stream.
	httpClient   *http.Client
	streamClient *http.Client
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient sets the client used for upstream requests. Streams use a
// copy of it without the Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		stream := *c
		stream.Timeout = 0
		s.httpClient = c
		s.streamClient = &stream
	}
}

// WithClock overrides the time source for error timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a relay server and registers its routes.
func New(cfg config.RelayConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			// LLM requests can be slow
			Timeout: upstreamTimeout,
		},
		streamClient: &http.Client{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = security.NewRateLimiter(rateLimitConfig(cfg.RateLimit))

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             validation.MaxRelayBodyBytes,
		ErrorHandler:          s.handleError,
	})
	app.Use(s.cors)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})
	app.Post("/chat", s.handleChat)
	app.Post("/functions/v1/chat", s.handleChat)
	s.app = app

	return s
}

func rateLimitConfig(rl config.RateLimitConfig) security.RateLimitConfig {
	return security.RateLimitConfig{MaxRequests: rl.MaxRequests, WindowSize: rl.Window}
}

// App returns the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on the configured address until Shutdown.
func (s *Server) Listen() error {
	cfg := s.config()
	s.logger.Info("starting relay server",
		zap.String("listen", cfg.Listen),
		zap.String("upstream", cfg.UpstreamURL),
		zap.String("model", cfg.Model),
		zap.Int("access_tokens", len(cfg.AccessTokens)),
	)
	return s.app.Listen(cfg.Listen)
}

// Shutdown stops the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.app.ShutdownWithContext(ctx)
}

// Update applies a reloaded configuration. The listen address only takes
// effect on restart.
func (s *Server) Update(cfg config.RelayConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.limiter.Update(rateLimitConfig(cfg.RateLimit))
	s.logger.Info("relay configuration reloaded",
		zap.String("model", cfg.Model),
		zap.Int("access_tokens", len(cfg.AccessTokens)),
		zap.Int("rate_limit", cfg.RateLimit.MaxRequests),
	)
}

func (s *Server) config() config.RelayConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) cors(c *fiber.Ctx) error {
	origins := s.config().AllowOrigins
	if origins == "" {
		origins = "*"
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, origins)
	c.Set(fiber.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	c.Set(fiber.HeaderAccessControlAllowMethods, corsAllowMethods)
	if c.Method() == fiber.MethodOptions {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.Next()
}

// fail writes the error envelope.
func (s *Server) fail(c *fiber.Ctx, status int, errType, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: ErrorBody{
		Type:      errType,
		Message:   msg,
		Timestamp: s.now().UTC(),
	}})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	errType := ErrTypeInternal
	msg := "internal error"
	if fe, ok := err.(*fiber.Error); ok {
		status = fe.Code
		msg = fe.Message
		if status < fiber.StatusInternalServerError {
			errType = ErrTypeInvalidRequest
		}
	} else {
		s.logger.Error("relay handler failed", zap.Error(err))
	}
	return s.fail(c, status, errType, msg)
}

func (s *Server) authorize(c *fiber.Ctx, cfg config.RelayConfig) (key string, ok bool) {
	token, hasToken := security.BearerToken(c.Get(fiber.HeaderAuthorization))
	if len(cfg.AccessTokens) == 0 {
		return c.IP(), true
	}
	if !hasToken || !security.TokenAllowed(token, cfg.AccessTokens) {
		s.logger.Warn("rejected relay request",
			zap.String("ip", c.IP()),
			zap.String("token", security.MaskToken(token)),
		)
		return "", false
	}
	return token, true
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()
	cfg := s.config()

	key, ok := s.authorize(c, cfg)
	if !ok {
		return s.fail(c, fiber.StatusUnauthorized, ErrTypeUnauthorized, "missing or invalid access token")
	}
	if !s.limiter.Allow(key) {
		wait := s.limiter.RetryAfter(key)
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(wait.Seconds()+0.999)))
		return s.fail(c, fiber.StatusTooManyRequests, ErrTypeRateLimited, "rate limit exceeded, retry later")
	}

	var req ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Debug("failed to parse request", zap.Error(err))
		return s.fail(c, fiber.StatusBadRequest, ErrTypeInvalidRequest, "invalid request body")
	}
	if err := validateRequest(req); err != nil {
		return s.fail(c, fiber.StatusBadRequest, ErrTypeInvalidRequest, angelerrors.UserMessage(err))
	}

	s.logger.Debug("received chat request",
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("stream", req.Stream),
		zap.Bool("json_mode", req.JSONMode),
	)

	body, err := json.Marshal(upstreamBody(req, cfg.Model))
	if err != nil {
		return err
	}

	// The stream writer outlives the handler, so the upstream call is not
	// bound to the request context.
	timeout := upstreamTimeout
	if req.Stream {
		timeout = streamTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	resp, err := s.forward(ctx, cfg, body, req.Stream)
	if err != nil {
		cancel()
		s.logger.Error("upstream request failed", zap.Error(err))
		return s.fail(c, fiber.StatusBadGateway, ErrTypeUpstream, "upstream request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("upstream returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(detail)),
		)
		return s.fail(c, upstreamStatus(resp.StatusCode), ErrTypeUpstream, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	if !req.Stream {
		defer cancel()
		defer resp.Body.Close()
		completion, err := io.ReadAll(resp.Body)
		if err != nil || !json.Valid(completion) {
			s.logger.Error("invalid upstream completion", zap.Error(err))
			return s.fail(c, fiber.StatusBadGateway, ErrTypeUpstream, "upstream returned an invalid response")
		}
		s.logger.Info("relayed completion", zap.Duration("duration", time.Since(startTime)))
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(completion)
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		defer cancel()
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("upstream answered a stream request without an event stream",
			zap.String("body", string(detail)),
		)
		return s.fail(c, fiber.StatusBadGateway, ErrTypeUpstream, "upstream returned an invalid response")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer resp.Body.Close()
		n, err := relayEvents(resp.Body, w)
		if err != nil {
			s.logger.Warn("stream relay ended early", zap.Int("events", n), zap.Error(err))
			return
		}
		if n == 0 {
			s.logger.Warn("upstream stream carried no events")
			return
		}
		s.logger.Info("relayed stream",
			zap.Int("events", n),
			zap.Duration("duration", time.Since(startTime)),
		)
	}))
	return nil
}

func validateRequest(req ChatRequest) error {
	if err := validation.ValidateRelayMessages(req.Messages); err != nil {
		return err
	}
	if req.Temperature != nil {
		if err := validation.ValidateTemperature(*req.Temperature); err != nil {
			return err
		}
	}
	return validation.ValidateMaxTokens(req.MaxTokens)
}

func upstreamBody(req ChatRequest, model string) upstreamRequest {
	body := upstreamRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

func (s *Server) forward(ctx context.Context, cfg config.RelayConfig, body []byte, stream bool) (*http.Response, error) {
	url := strings.TrimSuffix(cfg.UpstreamURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.UpstreamKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	s.logger.Debug("forwarding request to upstream",
		zap.String("url", url),
		zap.Int("body_size", len(body)),
	)
	client := s.httpClient
	if stream {
		client = s.streamClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// upstreamStatus maps an upstream failure onto the status returned to the
// client: client errors and throttling pass through, the rest become 502.
func upstreamStatus(status int) int {
	switch {
	case status == http.StatusTooManyRequests:
		return status
	case status >= 400 && status < 500 && status != http.StatusUnauthorized && status != http.StatusForbidden:
		return status
	}
	return fiber.StatusBadGateway
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == fiber.MIMEApplicationJSON
}

// relayEvents copies data lines from an upstream event stream, one event per
// line followed by a blank line. Comments and other fields are dropped.
func relayEvents(r io.Reader, w *bufio.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	events := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if _, err := w.WriteString(line + "\n\n"); err != nil {
			return events, err
		}
		if err := w.Flush(); err != nil {
			return events, err
		}
		events++
	}
	return events, scanner.Err()
}
