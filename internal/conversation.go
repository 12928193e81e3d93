package internal

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/transcript"
	"github.com/ZaguanLabs/angel/internal/validation"
)

// ErrBusy is returned when a message is submitted while a response is
// still in flight.
var ErrBusy = errors.New("a response is already in flight")

// Conversation runs exchanges between a transcript and a Sender. Front ends
// call Submit and render from the transcript; at most one exchange runs at a
// time.
type Conversation struct {
	sender     Sender
	transcript *transcript.Controller
	logger     *zap.Logger

	mu      sync.Mutex
	options Options
	busy    bool
	cancel  context.CancelFunc
}

// NewConversation wires a sender to a transcript.
func NewConversation(sender Sender, ctrl *transcript.Controller, opts Options, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		sender:     sender,
		transcript: ctrl,
		options:    opts,
		logger:     logger,
	}
}

// Transcript returns the underlying controller.
func (c *Conversation) Transcript() *transcript.Controller { return c.transcript }

// Options returns the current request options.
func (c *Conversation) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// SetOptions replaces the request options for later exchanges.
func (c *Conversation) SetOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = opts
}

// Busy reports whether an exchange is running.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Cancel stops the running exchange, if any. Partial content stays in the
// transcript.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset clears the transcript. It fails while an exchange is running.
func (c *Conversation) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.transcript.Reset()
	return nil
}

// Submit appends a user turn, sends the transcript and folds the reply in.
//
// With streaming, an in-flight assistant turn is started and each fragment
// is appended as it arrives; onUpdate is called with the growing turn. On
// failure the partial turn is kept. Without streaming, the reply is set
// in one step and nothing is added to the transcript on failure besides the
// user turn.
//
// Image URLs found in the reply become the assistant turn's attachments.
func (c *Conversation) Submit(ctx context.Context, text string, attachments []string, onUpdate func(transcript.Turn)) (transcript.Turn, error) {
	text = strings.TrimSpace(text)
	if err := validation.ValidateMessage(text); err != nil {
		return transcript.Turn{}, err
	}
	if err := validation.ValidateAttachments(attachments); err != nil {
		return transcript.Turn{}, err
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return transcript.Turn{}, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	opts := c.options
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.busy = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	if onUpdate == nil {
		onUpdate = func(transcript.Turn) {}
	}

	c.transcript.AppendUser(text, attachments...)
	req := Request{Messages: c.transcript.Messages(), Options: opts}

	if !opts.Streaming {
		reply, err := c.sender.Send(ctx, req, nil)
		if err != nil {
			return transcript.Turn{}, c.fail(ctx, err)
		}
		turn := c.transcript.SetAssistantResponse(reply, transcript.ExtractImageURLs(reply)...)
		onUpdate(turn)
		return turn, nil
	}

	c.transcript.BeginAssistantResponse()
	fragments := 0
	reply, err := c.sender.Send(ctx, req, func(fragment string) error {
		if err := c.transcript.AppendFragment(fragment); err != nil {
			return err
		}
		fragments++
		if last, ok := c.transcript.Last(); ok {
			onUpdate(last)
		}
		return nil
	})
	if err != nil {
		c.transcript.Cancel()
		last, _ := c.transcript.Last()
		return last, c.fail(ctx, err)
	}

	// A backend may answer a streaming request with one final string and
	// no fragments; otherwise the accumulated content is the reply.
	content := reply
	if fragments > 0 {
		last, _ := c.transcript.Last()
		content = last.Content
	}
	turn := c.transcript.SetAssistantResponse(content, transcript.ExtractImageURLs(content)...)
	onUpdate(turn)
	return turn, nil
}

func (c *Conversation) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
		c.logger.Info("response cancelled")
		if ctxErr != nil {
			return ctxErr
		}
		return err
	}
	c.logger.Error("response failed",
		zap.String("kind", angelerrors.KindOf(err).String()),
		zap.Error(err),
	)
	if angelerrors.IsRetryable(err) {
		return angelerrors.NewRetryableError(err)
	}
	return err
}
