package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaguanLabs/angel/internal/mocks"
	"github.com/ZaguanLabs/angel/internal/ui"
)

func TestInputSizeTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  InputSize
		event InputEvent
		turns int
		want  InputSize
	}{
		{"submit from empty", InputCompressed, InputSubmitted, 0, InputExpanded},
		{"response done with turns", InputExpanded, InputResponseDone, 2, InputExpanded},
		{"response done with nothing kept", InputExpanded, InputResponseDone, 0, InputCompressed},
		{"cleared", InputExpanded, InputCleared, 0, InputCompressed},
		{"loaded session", InputCompressed, InputLoaded, 4, InputExpanded},
		{"loaded empty session", InputExpanded, InputLoaded, 0, InputCompressed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Next(tt.event, tt.turns))
		})
	}
	assert.Less(t, InputCompressed.Lines(), InputExpanded.Lines())
	assert.Equal(t, "expanded", InputExpanded.String())
}

func TestMicStateTransitions(t *testing.T) {
	assert.Equal(t, MicRecording, MicIdle.Next(MicToggled))
	assert.Equal(t, MicIdle, MicRecording.Next(MicToggled))
	assert.Equal(t, MicIdle, MicRecording.Next(MicSubmitted))
	assert.Equal(t, MicIdle, MicIdle.Next(MicSubmitted))
	assert.Equal(t, "recording", MicRecording.String())
}

func newTestModel(t *testing.T, h *mocks.TestHelper) Model {
	t.Helper()
	renderer, err := ui.NewRenderer(80, ui.WithMarkdown(false))
	require.NoError(t, err)
	return NewModel(h.Conversation(), renderer, WithStore(h.Storage()), WithTitle("test-model"))
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// drive runs cmd and everything it leads to until no commands are left.
// Spinner ticks are dropped so the loop never sleeps.
func drive(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		require.True(t, time.Now().Before(deadline), "model did not settle")
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case nil, spinner.TickMsg, tea.QuitMsg:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		default:
			var next tea.Cmd
			m, next = update(m, msg)
			queue = append(queue, next)
		}
	}
	return m
}

func send(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	return drive(t, m, cmd)
}

func TestModelSubmitStreamsAndSaves(t *testing.T) {
	h := mocks.NewTestHelper().WithResponses("Hello there friend")
	m := newTestModel(t, h)
	assert.Equal(t, InputCompressed, m.inputSize)

	m.input.SetValue("hi")
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, InputExpanded, m.inputSize)
	assert.Empty(t, m.input.Value())

	m = drive(t, m, cmd)
	turns := h.Conversation().Transcript().Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello there friend", turns[1].Content)
	assert.Equal(t, InputExpanded, m.inputSize)
	assert.Contains(t, m.View(), "Hello there friend")

	assert.Equal(t, int64(1), m.sessionID)
	assert.Equal(t, 2, m.saved)
	assert.Len(t, h.Storage().Turns(1), 2)

	m = send(t, m, "again")
	assert.Equal(t, 4, m.saved)
	assert.Len(t, h.Storage().Turns(1), 4)
}

func TestModelMicToggle(t *testing.T) {
	h := mocks.NewTestHelper()
	m := newTestModel(t, h)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, MicRecording, m.mic)
	assert.Contains(t, m.View(), "REC")

	m = send(t, m, "hello")
	assert.Equal(t, MicIdle, m.mic)
}

func TestModelCommands(t *testing.T) {
	h := mocks.NewTestHelper()
	m := newTestModel(t, h)

	m = send(t, m, "/help")
	assert.Contains(t, m.renderTranscript(), "Available commands")

	m = send(t, m, "/json")
	assert.True(t, h.Conversation().Options().JSONMode)

	m = send(t, m, "/nope")
	assert.Contains(t, m.renderTranscript(), `unknown command "/nope"`)

	m = send(t, m, "/attach cat.png")
	assert.Equal(t, []string{"cat.png"}, m.pending)

	m = send(t, m, "look")
	assert.Empty(t, m.pending)
	assert.Equal(t, InputExpanded, m.inputSize)

	m = send(t, m, "/reset")
	assert.Equal(t, InputCompressed, m.inputSize)
	assert.Zero(t, h.Conversation().Transcript().Len())
	assert.Zero(t, m.sessionID)
	assert.Contains(t, m.renderTranscript(), "History cleared.")
}

func TestModelListAndLoad(t *testing.T) {
	h := mocks.NewTestHelper()
	ctx := context.Background()
	id, err := h.Storage().CreateSession(ctx, "Earlier chat")
	require.NoError(t, err)
	require.NoError(t, h.Storage().AppendTurns(ctx, id, mocks.CreateTestTurns(4)))

	m := newTestModel(t, h)
	m = send(t, m, "/list")
	out := m.renderTranscript()
	assert.Contains(t, out, "#1: Earlier chat")
	assert.Contains(t, out, "4 turns")

	m = send(t, m, "/load 1")
	assert.Equal(t, 4, h.Conversation().Transcript().Len())
	assert.Equal(t, id, m.sessionID)
	assert.Equal(t, 4, m.saved)
	assert.Equal(t, InputExpanded, m.inputSize)
	assert.Contains(t, m.renderTranscript(), "Loaded session #1: Earlier chat")

	m = send(t, m, "/load 99")
	assert.Contains(t, m.renderTranscript(), "Error:")
	assert.Equal(t, 4, h.Conversation().Transcript().Len())

	m = send(t, m, "/load abc")
	assert.Contains(t, m.renderTranscript(), "usage: /load <session-id>")
}

func TestModelWithoutStore(t *testing.T) {
	h := mocks.NewTestHelper()
	renderer, err := ui.NewRenderer(80, ui.WithMarkdown(false))
	require.NoError(t, err)
	m := NewModel(h.Conversation(), renderer)

	m = send(t, m, "/list")
	assert.Contains(t, m.renderTranscript(), "storage not available")

	m = send(t, m, "hello")
	assert.Equal(t, 2, h.Conversation().Transcript().Len())
	assert.Zero(t, m.sessionID)
}

func TestModelSendFailureShowsNotice(t *testing.T) {
	h := mocks.NewTestHelper().WithError(errors.New("dial tcp: connection refused"), -1)
	m := newTestModel(t, h)

	m = send(t, m, "hello")
	out := m.renderTranscript()
	assert.Contains(t, out, "Error:")
	assert.NotContains(t, out, "connection refused")
	assert.Equal(t, InputExpanded, m.inputSize)
	assert.False(t, h.Conversation().Busy())
}

func TestModelStorageFailureIsQuiet(t *testing.T) {
	h := mocks.NewTestHelper().WithStorageError("CreateSession", errors.New("disk full"))
	m := newTestModel(t, h)

	m = send(t, m, "hello")
	assert.NotContains(t, m.renderTranscript(), "disk full")
	assert.Zero(t, m.saved)
	assert.False(t, m.saving)
}

func TestModelWindowResize(t *testing.T) {
	h := mocks.NewTestHelper()
	m := newTestModel(t, h)

	m, _ = update(m, tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.viewport.Width)
	assert.Equal(t, 40-headerHeight-footerHeight-InputCompressed.Lines()-inputChrome, m.viewport.Height)
	assert.Equal(t, 120, m.renderer.Width())
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := map[string]time.Time{
		"unknown":    {},
		"just now":   now.Add(-10 * time.Second),
		"5 min ago":  now.Add(-5 * time.Minute),
		"3 hr ago":   now.Add(-3 * time.Hour),
		"2 d ago":    now.Add(-48 * time.Hour),
		"2026-01-01": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for want, at := range tests {
		assert.Equal(t, want, formatRelative(at, now))
	}
}
