package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZaguanLabs/angel/internal"
	"github.com/ZaguanLabs/angel/internal/storage"
	"github.com/ZaguanLabs/angel/internal/transcript"
)

// MockSender simulates a model backend for testing. Replies are returned in
// sequence; when streaming, each reply is delivered word by word.
type MockSender struct {
	mu            sync.Mutex
	responses     []string
	responseIndex int
	err           error
	failAfter     int
	delay         time.Duration
	block         bool
	requests      []internal.Request
}

// NewMockSender creates a sender that answers with the given replies.
func NewMockSender(responses ...string) *MockSender {
	if len(responses) == 0 {
		responses = []string{"Hello! How can I help you today?"}
	}
	return &MockSender{responses: responses, failAfter: -1}
}

// SetResponses sets replies that will be returned in sequence.
func (m *MockSender) SetResponses(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.responseIndex = 0
}

// SetError makes every call fail with err. When streaming, failAfter
// fragments are delivered first; a negative value fails before any.
func (m *MockSender) SetError(err error, failAfter int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failAfter = failAfter
}

// SetDelay sets a simulated delay before each fragment.
func (m *MockSender) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// SetBlocking makes calls wait for context cancellation after delivering
// their fragments.
func (m *MockSender) SetBlocking(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = block
}

// Send implements internal.Sender.
func (m *MockSender) Send(ctx context.Context, req internal.Request, onFragment func(string) error) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	response := "No response configured"
	if len(m.responses) > 0 {
		response = m.responses[m.responseIndex%len(m.responses)]
		m.responseIndex++
	}
	err, failAfter, delay, block := m.err, m.failAfter, m.delay, m.block
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !req.Options.Streaming {
		if err := wait(ctx, delay); err != nil {
			return "", err
		}
		if err != nil {
			return "", err
		}
		return response, nil
	}

	var full strings.Builder
	for i, word := range splitWords(response) {
		if err != nil && i >= failAfter {
			return full.String(), err
		}
		if err := wait(ctx, delay); err != nil {
			return full.String(), err
		}
		full.WriteString(word)
		if onFragment != nil {
			if cbErr := onFragment(word); cbErr != nil {
				return full.String(), cbErr
			}
		}
	}
	if err != nil {
		return full.String(), err
	}
	if block {
		<-ctx.Done()
		return full.String(), ctx.Err()
	}
	return full.String(), nil
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitWords cuts s after each space so the pieces concatenate back to s.
func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, " ")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// Requests returns copies of every request received.
func (m *MockSender) Requests() []internal.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]internal.Request(nil), m.requests...)
}

// GetCallCount returns the number of Send calls made.
func (m *MockSender) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// MockStorage simulates the session store for testing.
type MockStorage struct {
	mu        sync.RWMutex
	sessions  map[int64]*storage.SessionSummary
	turns     map[int64][]transcript.Turn
	nextID    int64
	errors    map[string]error
	callCount int
	now       func() time.Time
}

// NewMockStorage creates a new mock storage instance.
func NewMockStorage() *MockStorage {
	base := time.Now()
	tick := 0
	return &MockStorage{
		sessions: make(map[int64]*storage.SessionSummary),
		turns:    make(map[int64][]transcript.Turn),
		errors:   make(map[string]error),
		nextID:   1,
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
	}
}

// SetError simulates an error for a specific operation, named after the
// method, e.g. "AppendTurns".
func (m *MockStorage) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[operation] = err
}

func (m *MockStorage) begin(ctx context.Context, op string) error {
	m.callCount++
	if err := m.errors[op]; err != nil {
		return err
	}
	return ctx.Err()
}

// CreateSession records a new session.
func (m *MockStorage) CreateSession(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "CreateSession"); err != nil {
		return 0, err
	}

	now := m.now()
	session := &storage.SessionSummary{ID: m.nextID, Name: name, CreatedAt: now, UpdatedAt: now}
	m.sessions[m.nextID] = session
	m.nextID++
	return session.ID, nil
}

// AppendTurns stores turns, replacing any with a matching ID.
func (m *MockStorage) AppendTurns(ctx context.Context, sessionID int64, turns []transcript.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "AppendTurns"); err != nil {
		return err
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %d: %w", sessionID, storage.ErrNotFound)
	}

	stored := m.turns[sessionID]
	for _, turn := range turns {
		replaced := false
		for i := range stored {
			if turn.ID != "" && stored[i].ID == turn.ID {
				stored[i] = turn
				replaced = true
				break
			}
		}
		if !replaced {
			stored = append(stored, turn)
		}
	}
	m.turns[sessionID] = stored
	session.TurnCount = len(stored)
	session.UpdatedAt = m.now()
	return nil
}

// ListSessions returns sessions, most recently updated first.
func (m *MockStorage) ListSessions(ctx context.Context, limit int) ([]storage.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListSessions"); err != nil {
		return nil, err
	}

	sessions := make([]storage.SessionSummary, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, *session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// LoadSession returns a stored session.
func (m *MockStorage) LoadSession(ctx context.Context, id int64) (*storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "LoadSession"); err != nil {
		return nil, err
	}

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, storage.ErrNotFound)
	}
	return &storage.Session{
		Summary: *session,
		Turns:   append([]transcript.Turn(nil), m.turns[id]...),
	}, nil
}

// Close is a no-op.
func (m *MockStorage) Close() error { return nil }

// GetCallCount returns the number of storage operations performed.
func (m *MockStorage) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// Turns returns the turns stored for a session.
func (m *MockStorage) Turns(sessionID int64) []transcript.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]transcript.Turn(nil), m.turns[sessionID]...)
}
