package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/ZaguanLabs/angel/internal"
	"github.com/ZaguanLabs/angel/internal/transcript"
)

// TestHelper bundles a mock sender, a mock store and a conversation wired
// to them.
type TestHelper struct {
	sender       *MockSender
	storage      *MockStorage
	conversation *internal.Conversation
}

// NewTestHelper creates a helper with fresh mocks and a streaming
// conversation.
func NewTestHelper() *TestHelper {
	sender := NewMockSender()
	ctrl := transcript.NewController()
	return &TestHelper{
		sender:       sender,
		storage:      NewMockStorage(),
		conversation: internal.NewConversation(sender, ctrl, internal.Options{Temperature: 0.7, Streaming: true}, nil),
	}
}

// WithResponses scripts the sender's replies.
func (h *TestHelper) WithResponses(responses ...string) *TestHelper {
	h.sender.SetResponses(responses...)
	return h
}

// WithError makes the sender fail after failAfter fragments.
func (h *TestHelper) WithError(err error, failAfter int) *TestHelper {
	h.sender.SetError(err, failAfter)
	return h
}

// WithStorageError injects an error for a storage operation.
func (h *TestHelper) WithStorageError(operation string, err error) *TestHelper {
	h.storage.SetError(operation, err)
	return h
}

// WithSlowResponse delays every fragment.
func (h *TestHelper) WithSlowResponse(delay time.Duration) *TestHelper {
	h.sender.SetDelay(delay)
	return h
}

// Sender returns the mock sender.
func (h *TestHelper) Sender() *MockSender { return h.sender }

// Storage returns the mock storage.
func (h *TestHelper) Storage() *MockStorage { return h.storage }

// Conversation returns the conversation wired to the mock sender.
func (h *TestHelper) Conversation() *internal.Conversation { return h.conversation }

// Context returns a context that is cancelled when the test ends.
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitForCompletion polls fn until it reports true or the timeout passes.
func WaitForCompletion(timeout time.Duration, fn func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return context.DeadlineExceeded
}

// CreateTestTurns creates alternating user and assistant turns.
func CreateTestTurns(count int) []transcript.Turn {
	turns := make([]transcript.Turn, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		role := transcript.RoleUser
		if i%2 == 1 {
			role = transcript.RoleAssistant
		}
		turns[i] = transcript.Turn{
			ID:        "turn-" + string(rune('a'+i)),
			Role:      role,
			Content:   "Test message " + string(rune('A'+i)),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
	}
	return turns
}
