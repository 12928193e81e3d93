package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/ZaguanLabs/angel/internal"
	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/storage"
	"github.com/ZaguanLabs/angel/internal/transcript"
	"github.com/ZaguanLabs/angel/internal/ui"
	"github.com/ZaguanLabs/angel/internal/validation"
)

// Store is the session storage the TUI needs. *storage.Store implements it.
type Store interface {
	internal.Archive
	ListSessions(ctx context.Context, limit int) ([]storage.SessionSummary, error)
	LoadSession(ctx context.Context, id int64) (*storage.Session, error)
}

const (
	headerHeight = 2
	footerHeight = 1
	// rounded border around the input
	inputChrome  = 2
	listLimit    = 20
	eventBacklog = 64
)

// Msg types
type (
	turnUpdatedMsg struct {
		turn transcript.Turn
		ch   <-chan tea.Msg
	}
	responseDoneMsg struct {
		turn transcript.Turn
		err  error
	}
	sessionSavedMsg struct {
		id    int64
		saved int
	}
	saveFailedMsg     struct{ err error }
	sessionsListedMsg []storage.SessionSummary
	sessionLoadedMsg  *storage.Session
	errMsg            error
)

// Model is the Bubble Tea model for the chat application.
type Model struct {
	conv     *internal.Conversation
	renderer *ui.Renderer
	store    Store
	logger   *zap.Logger
	title    string

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	inputSize InputSize
	mic       MicState

	notices        []string
	pending        []string
	sessionID      int64
	saved          int
	saving         bool
	showTimestamps bool

	width  int
	height int
}

// Option configures a Model.
type Option func(*Model)

// WithStore enables /list, /load and saving of finished exchanges.
func WithStore(s Store) Option {
	return func(m *Model) { m.store = s }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTitle sets the header text, usually the model name.
func WithTitle(title string) Option {
	return func(m *Model) { m.title = title }
}

// WithTimestamps shows turn times in labels.
func WithTimestamps(show bool) Option {
	return func(m *Model) { m.showTimestamps = show }
}

// NewModel initializes the TUI model.
func NewModel(conv *internal.Conversation, renderer *ui.Renderer, opts ...Option) Model {
	ta := textarea.New()
	ta.Placeholder = "Type your message here..."
	ta.ShowLineNumbers = false
	ta.CharLimit = validation.MaxUserMessageLength
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleSpinner

	m := Model{
		conv:     conv,
		renderer: renderer,
		logger:   zap.NewNop(),
		title:    "Angel",
		input:    ta,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
	for _, opt := range opts {
		opt(&m)
	}

	m.inputSize = InputCompressed.Next(InputLoaded, conv.Transcript().Len())
	m.layout()
	m.refresh()
	return m
}

// Init initializes the program.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if err := m.renderer.SetWidth(msg.Width); err != nil {
			m.logger.Warn("failed to resize renderer", zap.Error(err))
		}
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.conv.Cancel()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.conv.Busy() {
				m.conv.Cancel()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyCtrlR:
			m.mic = m.mic.Next(MicToggled)
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}

	case turnUpdatedMsg:
		m.refresh()
		return m, waitForEvent(msg.ch)

	case responseDoneMsg:
		m.inputSize = m.inputSize.Next(InputResponseDone, m.conv.Transcript().Len())
		m.layout()
		if msg.err != nil {
			m.notify(styleError.Render("Error: " + angelerrors.UserMessage(msg.err)))
		} else {
			m.pending = nil
		}
		m.refresh()
		cmd := m.save()
		return m, cmd

	case sessionSavedMsg:
		m.saving = false
		m.sessionID = msg.id
		m.saved = msg.saved
		if !m.conv.Busy() && m.conv.Transcript().Len() > m.saved {
			cmd := m.save()
			return m, cmd
		}
		return m, nil

	case saveFailedMsg:
		m.saving = false
		m.logger.Warn("failed to save turns", zap.Int64("session_id", m.sessionID), zap.Error(msg.err))
		return m, nil

	case sessionsListedMsg:
		m.notify(styleSystem.Render(formatSessions(msg)))
		m.refresh()
		return m, nil

	case sessionLoadedMsg:
		return m.loaded(msg)

	case errMsg:
		m.notify(styleError.Render("Error: " + angelerrors.UserMessage(msg)))
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.conv.Busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var tiCmd, vpCmd tea.Cmd
	m.input, tiCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// View renders the UI.
func (m Model) View() string {
	header := styleHeader.Width(m.width).Render(fmt.Sprintf("Angel • %s", m.title))
	input := styleInput
	if m.conv.Busy() {
		input = styleInputBusy
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		input.Render(m.input.View()),
		m.footer(),
	)
}

func (m Model) footer() string {
	var parts []string
	if m.conv.Busy() {
		parts = append(parts, m.spinner.View()+" thinking (esc to cancel)")
	}
	if m.mic == MicRecording {
		parts = append(parts, styleRecording.Render("● REC"))
	}
	if n := len(m.pending); n > 0 {
		parts = append(parts, fmt.Sprintf("%d📎", n))
	}
	parts = append(parts, "enter send • alt+enter newline • ctrl+r mic • /help")
	return styleFooter.Render(strings.Join(parts, " • "))
}

// layout sizes the viewport and input for the window and input state.
func (m *Model) layout() {
	lines := m.inputSize.Lines()
	m.input.SetWidth(max(m.width-4, 10))
	m.input.SetHeight(lines)
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-headerHeight-footerHeight-lines-inputChrome, 1)
}

// refresh redraws the transcript into the viewport.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) notify(text string) {
	m.notices = append(m.notices, text)
}

func (m Model) renderTranscript() string {
	turns := m.conv.Transcript().Snapshot()
	inFlight := m.conv.Transcript().InFlight()

	var b strings.Builder
	if len(turns) == 0 && len(m.notices) == 0 {
		b.WriteString(styleSystem.Render("Welcome to Angel! Type a message to begin."))
		b.WriteString("\n")
	}
	for i, t := range turns {
		live := inFlight && i == len(turns)-1
		b.WriteString(m.label(t))
		b.WriteString("\n")
		b.WriteString(m.renderTurn(t, live))
		for _, ref := range t.Attachments {
			b.WriteString(styleSystem.Render("📎 " + ref))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	for _, n := range m.notices {
		b.WriteString(n)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) label(t transcript.Turn) string {
	style := styleAILabel
	switch t.Role {
	case transcript.RoleUser:
		style = styleUserLabel
	case transcript.RoleSystem:
		style = styleSystem
	}
	text := t.Role.DisplayName() + ":"
	if m.showTimestamps && !t.CreatedAt.IsZero() {
		text = fmt.Sprintf("%s (%s):", t.Role.DisplayName(), ui.FormatTimestamp(t.CreatedAt))
	}
	return style.Render(text)
}

func (m Model) renderTurn(t transcript.Turn, live bool) string {
	if t.Role != transcript.RoleAssistant {
		return m.renderer.Render(t.Content)
	}
	if live {
		if t.Content == "" {
			return m.spinner.View() + "\n"
		}
		return m.renderer.RenderPartial(t.Content) + "\n"
	}

	thinking, answer := internal.SplitThinking(t.Content)
	var b strings.Builder
	for _, think := range thinking {
		b.WriteString(styleThinking.Render(think))
		b.WriteString("\n")
	}
	if answer != "" {
		b.WriteString(m.renderer.Render(answer))
	}
	return b.String()
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	input := validation.SanitizeInput(m.input.Value(), validation.MaxUserMessageLength)
	if input == "" {
		return m, nil
	}
	if strings.HasPrefix(input, "/") {
		m.input.Reset()
		next, cmd, err := m.handleCommand(input)
		if err != nil {
			next.notify(styleError.Render("Error: " + angelerrors.UserMessage(err)))
			next.refresh()
		}
		return next, cmd
	}
	if m.conv.Busy() {
		return m, nil
	}

	m.input.Reset()
	m.mic = m.mic.Next(MicSubmitted)
	m.inputSize = m.inputSize.Next(InputSubmitted, m.conv.Transcript().Len())
	m.notices = nil
	m.layout()

	conv, attachments := m.conv, m.pending
	ch := make(chan tea.Msg, eventBacklog)
	go func() {
		defer close(ch)
		turn, err := conv.Submit(context.Background(), input, attachments, func(t transcript.Turn) {
			ch <- turnUpdatedMsg{turn: t, ch: ch}
		})
		ch <- responseDoneMsg{turn: turn, err: err}
	}()
	m.refresh()
	return m, tea.Batch(waitForEvent(ch), m.spinner.Tick)
}

// waitForEvent pumps one message from an exchange into the program.
func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// save persists turns added since the last save. Failures are logged and
// never shown in the chat.
func (m *Model) save() tea.Cmd {
	if m.store == nil || m.saving {
		return nil
	}
	turns := m.conv.Transcript().Snapshot()
	fresh := internal.Unsaved(turns, m.saved)
	if len(fresh) == 0 {
		return nil
	}
	m.saving = true

	store, id, saved := m.store, m.sessionID, len(turns)
	return func() tea.Msg {
		ctx := context.Background()
		if id == 0 {
			created, err := store.CreateSession(ctx, internal.SessionName(turns))
			if err != nil {
				return saveFailedMsg{err: err}
			}
			id = created
		}
		if err := store.AppendTurns(ctx, id, fresh); err != nil {
			return saveFailedMsg{err: err}
		}
		return sessionSavedMsg{id: id, saved: saved}
	}
}

func (m Model) handleCommand(input string) (Model, tea.Cmd, error) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	if err := validation.ValidateCommand(cmd); err != nil {
		return m, nil, err
	}

	switch cmd {
	case "/exit", "/quit":
		m.conv.Cancel()
		return m, tea.Quit, nil

	case "/clear", "/reset":
		if err := m.conv.Reset(); err != nil {
			return m, nil, err
		}
		m.notices = nil
		m.pending = nil
		m.sessionID = 0
		m.saved = 0
		m.inputSize = m.inputSize.Next(InputCleared, 0)
		m.layout()
		m.notify(styleSystem.Render("History cleared."))
		m.refresh()
		return m, nil, nil

	case "/help":
		m.notify(styleSystem.Render(helpText))
		m.refresh()
		return m, nil, nil

	case "/history":
		m.notify(styleSystem.Render(m.history()))
		m.refresh()
		return m, nil, nil

	case "/markdown":
		enabled := !m.renderer.Markdown()
		m.renderer.SetMarkdown(enabled)
		m.notify(styleSystem.Render(fmt.Sprintf("Markdown rendering: %t.", enabled)))
		m.refresh()
		return m, nil, nil

	case "/json":
		opts := m.conv.Options()
		opts.JSONMode = !opts.JSONMode
		m.conv.SetOptions(opts)
		m.notify(styleSystem.Render(fmt.Sprintf("JSON mode: %t.", opts.JSONMode)))
		m.refresh()
		return m, nil, nil

	case "/system":
		if arg == "" {
			current := m.conv.Transcript().SystemPrompt()
			if current == "" {
				current = "(none)"
			}
			m.notify(styleSystem.Render("System prompt: " + current))
		} else {
			if err := validation.ValidateMessage(arg); err != nil {
				return m, nil, err
			}
			m.conv.Transcript().SetSystemPrompt(arg)
			m.notify(styleSystem.Render("System prompt set; it applies from the next conversation (/reset)."))
		}
		m.refresh()
		return m, nil, nil

	case "/attach":
		if arg == "" {
			return m, nil, angelerrors.NewValidationError("attachment", "usage: /attach <image path or URL>", nil, nil)
		}
		next := append(append([]string(nil), m.pending...), arg)
		if err := validation.ValidateAttachments(next); err != nil {
			return m, nil, err
		}
		m.pending = next
		m.notify(styleSystem.Render(fmt.Sprintf("Attached %s to the next message.", arg)))
		m.refresh()
		return m, nil, nil

	case "/list", "/sessions":
		if m.store == nil {
			return m, nil, errStorageUnavailable
		}
		store := m.store
		return m, func() tea.Msg {
			sessions, err := store.ListSessions(context.Background(), listLimit)
			if err != nil {
				return errMsg(angelerrors.NewStorageError("list_sessions", "failed to list sessions", err))
			}
			return sessionsListedMsg(sessions)
		}, nil

	case "/load":
		if m.store == nil {
			return m, nil, errStorageUnavailable
		}
		if m.conv.Busy() {
			return m, nil, internal.ErrBusy
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return m, nil, angelerrors.NewValidationError("session_id", "usage: /load <session-id>", arg, nil)
		}
		store := m.store
		return m, func() tea.Msg {
			session, err := store.LoadSession(context.Background(), id)
			if err != nil {
				return errMsg(angelerrors.NewStorageError("load_session", fmt.Sprintf("failed to load session %d", id), err))
			}
			return sessionLoadedMsg(session)
		}, nil

	default:
		return m, nil, angelerrors.NewCommandError(cmd, fmt.Sprintf("unknown command %q. Try /help", cmd), nil)
	}
}

var errStorageUnavailable = angelerrors.NewCommandError("storage", "storage not available; check your configuration", nil)

const helpText = `Available commands:
/exit, /quit      - Exit application
/clear, /reset    - Clear conversation history
/help             - Show this help
/history          - Show conversation history
/markdown         - Toggle markdown rendering
/json             - Toggle JSON response mode
/system [prompt]  - Show or set the system prompt
/attach <image>   - Attach an image path or URL to the next message
/list, /sessions  - List saved conversations
/load <id>        - Load a saved conversation by ID

Keys: enter send, alt+enter newline, esc cancel, ctrl+r microphone, ctrl+c quit`

func (m Model) history() string {
	turns := m.conv.Transcript().Snapshot()
	if len(turns) == 0 {
		return "No conversation history yet."
	}
	var b strings.Builder
	b.WriteString("Conversation History:\n")
	for i, t := range turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, t.Role.DisplayName(), ui.Preview(t.Content, 70))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) loaded(session *storage.Session) (tea.Model, tea.Cmd) {
	if err := m.conv.Reset(); err != nil {
		m.notify(styleError.Render("Error: " + angelerrors.UserMessage(err)))
		m.refresh()
		return m, nil
	}
	m.conv.Transcript().Load(session.Turns)
	m.sessionID = session.Summary.ID
	m.saved = len(session.Turns)
	m.pending = nil
	m.notices = nil
	m.inputSize = m.inputSize.Next(InputLoaded, len(session.Turns))
	m.layout()

	title := session.Summary.Name
	if strings.TrimSpace(title) == "" {
		title = "Untitled session"
	}
	m.notify(styleSystem.Render(fmt.Sprintf("Loaded session #%d: %s (%d turns)", session.Summary.ID, title, len(session.Turns))))
	m.refresh()
	return m, nil
}

func formatSessions(sessions []storage.SessionSummary) string {
	if len(sessions) == 0 {
		return "No saved sessions found."
	}
	var b strings.Builder
	b.WriteString("Saved Sessions:\n")
	for _, s := range sessions {
		title := s.Name
		if strings.TrimSpace(title) == "" {
			title = "Untitled session"
		}
		fmt.Fprintf(&b, "#%d: %s\n", s.ID, ui.Truncate(title, 60))
		fmt.Fprintf(&b, "     %d turns • Last updated %s\n", s.TurnCount, formatRelative(s.UpdatedAt, time.Now()))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatRelative formats t relative to now.
func formatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	delta := now.Sub(t)
	if delta < time.Minute {
		return "just now"
	}
	if delta < time.Hour {
		return fmt.Sprintf("%d min ago", int(delta.Minutes()))
	}
	if delta < 24*time.Hour {
		return fmt.Sprintf("%d hr ago", int(delta.Hours()))
	}
	if delta < 30*24*time.Hour {
		return fmt.Sprintf("%d d ago", int(delta.Hours()/24))
	}
	return t.Format("2006-01-02")
}
