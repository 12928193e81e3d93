// Package transcript owns the ordered turns of one conversation and the
// mutation rules applied while a response streams in.
package transcript

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoPendingResponse is returned in strict mode when a fragment
	// arrives and the last turn is not an in-flight assistant turn.
	ErrNoPendingResponse = errors.New("transcript: no assistant response in flight")
	// ErrCancelled is returned for fragments that arrive after Cancel.
	ErrCancelled = errors.New("transcript: response cancelled")
)

// Option configures a Controller.
type Option func(*Controller)

// WithSystemPrompt sets the prompt injected ahead of the first user turn.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) { c.systemPrompt = prompt }
}

// WithLogger sets the logger used to report recoveries.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStrict makes AppendFragment reject fragments that have no in-flight
// assistant turn instead of recovering.
func WithStrict(strict bool) Option {
	return func(c *Controller) { c.strict = strict }
}

// WithClock replaces time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the single owner of a transcript. Turns are append-only;
// only the last turn's content changes, and only while it is the in-flight
// assistant turn. All methods are safe for concurrent use.
type Controller struct {
	mu           sync.Mutex
	turns        []Turn
	systemPrompt string
	inFlight     bool
	cancelled    bool
	strict       bool
	recoveries   int
	logger       *zap.Logger
	now          func() time.Time
}

// NewController creates an empty transcript.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSystemPrompt changes the prompt used the next time the transcript
// starts empty. Existing turns are not touched.
func (c *Controller) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// SystemPrompt returns the configured system prompt.
func (c *Controller) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

func (c *Controller) newTurn(role Role, content string, attachments []string) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: c.now(),
	}
	if len(attachments) > 0 {
		t.Attachments = append([]string(nil), attachments...)
	}
	return t
}

// AppendUser appends a user turn. When the transcript is empty and a system
// prompt is configured, a system turn is inserted first.
func (c *Controller) AppendUser(text string, attachments ...string) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.turns) == 0 && c.systemPrompt != "" {
		c.turns = append(c.turns, c.newTurn(RoleSystem, c.systemPrompt, nil))
	}
	t := c.newTurn(RoleUser, text, attachments)
	c.turns = append(c.turns, t)
	// A placeholder that is no longer last can never be rewritten.
	c.inFlight = false
	c.cancelled = false
	return t.clone()
}

// BeginAssistantResponse appends an empty in-flight assistant turn for
// fragments to accumulate into.
func (c *Controller) BeginAssistantResponse() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.newTurn(RoleAssistant, "", nil)
	c.turns = append(c.turns, t)
	c.inFlight = true
	c.cancelled = false
	return t.clone()
}

// AppendFragment concatenates text onto the in-flight assistant turn.
//
// If no assistant turn is in flight the controller recovers by starting a
// new in-flight assistant turn with text as its content, logs a warning and
// counts the event in Recoveries. In strict mode it returns
// ErrNoPendingResponse instead and leaves the transcript unchanged.
// After Cancel, fragments are dropped and ErrCancelled is returned.
func (c *Controller) AppendFragment(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return ErrCancelled
	}
	if n := len(c.turns); n > 0 && c.inFlight && c.turns[n-1].Role == RoleAssistant {
		c.turns[n-1].Content += text
		return nil
	}
	if c.strict {
		return ErrNoPendingResponse
	}

	c.recoveries++
	t := c.newTurn(RoleAssistant, text, nil)
	c.turns = append(c.turns, t)
	c.inFlight = true
	c.logger.Warn("fragment arrived without an in-flight response; started a new assistant turn",
		zap.String("turn_id", t.ID),
		zap.Int("fragment_len", len(text)),
		zap.Int("recoveries", c.recoveries),
	)
	return nil
}

// SetAssistantResponse finalizes the response with text. The in-flight
// placeholder is replaced wholesale when there is one; otherwise a complete
// assistant turn is appended.
func (c *Controller) SetAssistantResponse(text string, attachments ...string) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled = false
	if n := len(c.turns); n > 0 && c.inFlight && c.turns[n-1].Role == RoleAssistant {
		last := &c.turns[n-1]
		last.Content = text
		last.Attachments = nil
		if len(attachments) > 0 {
			last.Attachments = append([]string(nil), attachments...)
		}
		c.inFlight = false
		return last.clone()
	}

	t := c.newTurn(RoleAssistant, text, attachments)
	c.turns = append(c.turns, t)
	c.inFlight = false
	return t.clone()
}

// Finish marks the in-flight response as complete.
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
}

// Cancel stops the in-flight response. Partial content stays in the
// transcript and later fragments are dropped until the next turn starts.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		c.cancelled = true
	}
	c.inFlight = false
}

// InFlight reports whether an assistant response is accumulating.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Recoveries returns how many fragments started a new turn because no
// response was in flight.
func (c *Controller) Recoveries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoveries
}

// Snapshot returns a deep copy of the transcript.
func (c *Controller) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.clone()
	}
	return out
}

// Last returns a copy of the last turn.
func (c *Controller) Last() (Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1].clone(), true
}

// Len returns the number of turns.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Reset clears the transcript for a new conversation. The system prompt is
// kept and will be injected again on the next AppendUser.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	c.inFlight = false
	c.cancelled = false
}

// Load replaces the transcript with previously stored turns.
func (c *Controller) Load(turns []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = make([]Turn, len(turns))
	for i, t := range turns {
		c.turns[i] = t.clone()
	}
	c.inFlight = false
	c.cancelled = false
}

// Messages returns the transcript as request messages.
func (c *Controller) Messages() []Message {
	return Messages(c.Snapshot())
}

// FlattenPrompt joins turn contents with newlines. Attachments are not
// included and an empty in-flight placeholder is skipped.
func (c *Controller) FlattenPrompt() string {
	msgs := c.Messages()
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}
