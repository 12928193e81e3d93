package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/relay"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		baseURL   string
		model     string
		wantError bool
	}{
		{"valid key", "test-key", "https://api.example.com", "gpt-4o-mini", false},
		{"empty key", "", "https://api.example.com", "gpt-4o-mini", true},
		{"whitespace key", "   ", "https://api.example.com", "gpt-4o-mini", true},
		{"empty url", "test-key", "", "gpt-4o-mini", true},
		{"empty model", "test-key", "https://api.example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.apiKey, tt.baseURL, tt.model)
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if client == nil || client.Model() != tt.model {
				t.Error("expected client with model set")
			}
		})
	}
}

func testRequest(stream bool) Request {
	return Request{
		Messages: []Message{{Role: "user", Content: "Hello"}},
		Options:  Options{Temperature: 0.7, MaxTokens: 256, Streaming: stream},
	}
}

func TestClient_Send(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"Hi there!"}}]}`)
	}))
	defer server.Close()

	client, err := NewClient("test-key", server.URL+"/", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	reply, err := client.Send(context.Background(), testRequest(false), nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if reply != "Hi there!" {
		t.Errorf("expected 'Hi there!', got %q", reply)
	}
	if got.Model != "gpt-4o-mini" || got.Stream || got.MaxTokens != 256 {
		t.Errorf("unexpected request body: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", got.Temperature)
	}
	if got.ResponseFormat != nil {
		t.Errorf("expected no response_format, got %+v", got.ResponseFormat)
	}
}

func TestClient_SendOptions(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw = nil
		json.NewDecoder(r.Body).Decode(&raw)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`)
	}))
	defer server.Close()

	client, _ := NewClient("k", server.URL, "o3-mini")
	req := testRequest(false)
	req.Options.JSONMode = true
	if _, err := client.Send(context.Background(), req, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, ok := raw["temperature"]; ok {
		t.Error("o3 models must not receive a temperature")
	}
	format, _ := raw["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", raw["response_format"])
	}
}

func TestClient_SendStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer server.Close()

	client, _ := NewClient("k", server.URL, "m")
	var fragments []string
	reply, err := client.Send(context.Background(), testRequest(true), func(s string) error {
		fragments = append(fragments, s)
		return nil
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if reply != "Hello" {
		t.Errorf("expected 'Hello', got %q", reply)
	}
	if strings.Join(fragments, "|") != "Hel|lo" {
		t.Errorf("unexpected fragments: %v", fragments)
	}
}

func TestClient_SendStreamCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer server.Close()

	stop := errors.New("stop")
	client, _ := NewClient("k", server.URL, "m")
	reply, err := client.Send(context.Background(), testRequest(true), func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if reply != "a" {
		t.Errorf("expected partial reply 'a', got %q", reply)
	}
}

func TestClient_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		stream bool
	}{
		{"not json", "<html>oops</html>", false},
		{"no choices", `{"choices":[]}`, false},
		{"no message", `{"choices":[{}]}`, false},
		{"stream of garbage", "data: {nope\n\ndata: [DONE]\n\n", true},
		{"stream answered with a completion", `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`, true},
		{"stream with no events", "data: [DONE]\n\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client, _ := NewClient("k", server.URL, "m")
			_, err := client.Send(context.Background(), testRequest(tt.stream), nil)
			if angelerrors.KindOf(err) != angelerrors.KindMalformed {
				t.Fatalf("expected malformed response error, got %v", err)
			}
			if !angelerrors.IsRetryable(err) {
				t.Error("malformed responses should be retryable")
			}
		})
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantMsg    string
		wantType   string
	}{
		{"openai envelope", http.StatusUnauthorized, `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`, "Invalid API key", "invalid_request_error"},
		{"relay envelope", http.StatusTooManyRequests, `{"error":{"type":"rate_limited","message":"slow down","timestamp":"2026-01-01T00:00:00Z"}}`, "slow down", "rate_limited"},
		{"bare string", http.StatusBadGateway, `{"error":"upstream failed","message":"timeout"}`, "upstream failed: timeout", "unknown"},
		{"not json", http.StatusInternalServerError, `boom`, "failed to decode error body", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client, _ := NewClient("test-key", server.URL, "m")
			_, err := client.Send(context.Background(), testRequest(false), nil)

			var apiErr *angelerrors.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T: %v", err, err)
			}
			if apiErr.Status() != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, apiErr.Status())
			}
			if apiErr.Message() != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, apiErr.Message())
			}
			if apiErr.ErrType() != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, apiErr.ErrType())
			}
		})
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, _ := NewClient("k", server.URL, "m")
	_, err := client.Send(ctx, testRequest(false), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRelayClient_Send(t *testing.T) {
	var got relay.ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ang_token" {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewRelayClient(server.URL+"/chat", "ang_token")
	if err != nil {
		t.Fatalf("failed to create relay client: %v", err)
	}
	reply, err := client.Send(context.Background(), testRequest(true), nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if reply != "Hi" {
		t.Errorf("expected 'Hi', got %q", reply)
	}
	if !got.Stream || len(got.Messages) != 1 || got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("unexpected relay request: %+v", got)
	}
}

func TestRelayClient_NoToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("expected no authorization header, got %q", h)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	client, _ := NewRelayClient(server.URL, "")
	if reply, err := client.Send(context.Background(), testRequest(false), nil); err != nil || reply != "ok" {
		t.Fatalf("unexpected result %q, %v", reply, err)
	}

	if _, err := NewRelayClient("  ", ""); err == nil {
		t.Error("expected error for empty relay URL")
	}
}

func TestRequestPrompt(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hi"},
	}}
	if got := req.Prompt(); got != "Be brief.\nHi" {
		t.Errorf("unexpected prompt %q", got)
	}
	if got := (Request{}).Prompt(); got != "" {
		t.Errorf("expected empty prompt, got %q", got)
	}
}
