package internal

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
)

const maxEventLine = 1 << 20

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// readEventStream consumes an OpenAI-style server-sent event stream and
// passes each choices[0].delta.content to onFragment. Malformed chunks are
// logged and skipped; a stream without a single valid chunk, including one
// with no data events at all, is reported as a malformed response. The
// stream ends at [DONE] or EOF.
func readEventStream(r io.Reader, source string, logger *zap.Logger, onFragment func(string) error) (string, error) {
	var (
		full      strings.Builder
		valid     int
		malformed int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			malformed++
			logger.Debug("skipping malformed stream chunk",
				zap.String("source", source),
				zap.Error(err),
			)
			continue
		}
		valid++

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		fragment := chunk.Choices[0].Delta.Content
		full.WriteString(fragment)
		if err := onFragment(fragment); err != nil {
			return full.String(), err
		}
	}

	if err := scanner.Err(); err != nil {
		return full.String(), angelerrors.NewNetworkError(source, "stream read error", 0, err)
	}
	switch {
	case valid == 0 && malformed > 0:
		return "", angelerrors.NewMalformedResponseError(source, "stream contained no valid chunks", nil)
	case valid == 0:
		return "", angelerrors.NewMalformedResponseError(source, "stream contained no events", nil)
	}
	return full.String(), nil
}

type completion struct {
	Choices []struct {
		Message *Message `json:"message"`
	} `json:"choices"`
}

// decodeCompletion extracts choices[0].message.content.
func decodeCompletion(r io.Reader, source string) (string, error) {
	var resp completion
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return "", angelerrors.NewMalformedResponseError(source, "decode response", err)
	}
	if len(resp.Choices) == 0 {
		return "", angelerrors.NewMalformedResponseError(source, "no choices in response", nil)
	}
	if resp.Choices[0].Message == nil {
		return "", angelerrors.NewMalformedResponseError(source, "choice has no message", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeError turns a non-2xx body into an APIError. It understands the
// OpenAI shape {"error": {"message", "type"}}, the relay shape which adds a
// timestamp, and a bare {"error": "text"}.
func decodeError(body []byte, status int) error {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return angelerrors.NewAPIError(status, "failed to decode error body", "unknown", err)
	}

	var text string
	if err := json.Unmarshal(envelope.Error, &text); err == nil && text != "" {
		msg := text
		if envelope.Message != "" {
			msg = text + ": " + envelope.Message
		}
		return angelerrors.NewAPIError(status, msg, "unknown", nil)
	}

	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(envelope.Error, &obj); err == nil && obj.Message != "" {
		errType := obj.Type
		if errType == "" {
			errType = "unknown"
		}
		return angelerrors.NewAPIError(status, obj.Message, errType, nil)
	}

	return angelerrors.NewAPIError(status, "request failed", "unknown", nil)
}
