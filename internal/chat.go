package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"
	"golang.org/x/term"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/transcript"
	"github.com/ZaguanLabs/angel/internal/ui"
	"github.com/ZaguanLabs/angel/internal/validation"
)

// Archive stores finished turns. *storage.Store implements it.
type Archive interface {
	CreateSession(ctx context.Context, name string) (int64, error)
	AppendTurns(ctx context.Context, sessionID int64, turns []transcript.Turn) error
}

var thinkPattern = regexp.MustCompile(`(?s)<(think|thinking)>.*?</(think|thinking)>`)

// Session is the line-mode front end: it reads a line, submits it to the
// conversation and prints the rendered reply.
type Session struct {
	conv     *Conversation
	renderer *ui.Renderer
	archive  Archive
	logger   *zap.Logger

	input          io.Reader
	output         io.Writer
	useColors      bool
	showTimestamps bool
	version        string
	model          string

	sessionID int64
	saved     int
	pending   []string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithArchive persists turns after every exchange.
func WithArchive(a Archive) SessionOption {
	return func(s *Session) { s.archive = a }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBanner sets the version and model shown on start.
func WithBanner(version, model string) SessionOption {
	return func(s *Session) {
		s.version = version
		s.model = model
	}
}

// WithTimestamps shows turn times in headers.
func WithTimestamps(show bool) SessionOption {
	return func(s *Session) { s.showTimestamps = show }
}

// NewSession creates a line-mode session.
func NewSession(conv *Conversation, renderer *ui.Renderer, opts ...SessionOption) (*Session, error) {
	if conv == nil {
		return nil, errors.New("conversation cannot be nil")
	}
	if renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}

	s := &Session{
		conv:      conv,
		renderer:  renderer,
		logger:    zap.NewNop(),
		input:     os.Stdin,
		output:    os.Stdout,
		useColors: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetIO overrides input/output streams (useful for testing).
func (s *Session) SetIO(in io.Reader, out io.Writer) {
	if in != nil {
		s.input = in
	}
	if out != nil {
		s.output = out
	}
}

// DisableColors turns off ANSI color output.
func (s *Session) DisableColors() {
	s.useColors = false
}

// lineReader abstracts liner and plain scanning.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type linerReader struct{ state *liner.State }

func (l *linerReader) ReadLine(prompt string) (string, error) {
	line, err := l.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err == nil && strings.TrimSpace(line) != "" {
		l.state.AppendHistory(line)
	}
	return line, err
}

func (l *linerReader) Close() error { return l.state.Close() }

type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (r *scanReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() error { return nil }

func (s *Session) reader() lineReader {
	if f, ok := s.input.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(f.Fd())) {
		state := liner.NewLiner()
		state.SetCtrlCAborts(true)
		return &linerReader{state: state}
	}
	scanner := bufio.NewScanner(s.input)
	scanner.Buffer(make([]byte, 0, 64*1024), validation.MaxUserMessageLength+1024)
	return &scanReader{scanner: scanner, out: s.output}
}

// Run starts the interactive chat loop. It returns nil on /exit or end of
// input.
func (s *Session) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("session is nil")
	}

	s.printWelcome()

	rd := s.reader()
	defer rd.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := rd.ReadLine(s.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input := validation.SanitizeInput(line, validation.MaxUserMessageLength)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			exit, err := s.handleCommand(input)
			if err != nil {
				s.printError(angelerrors.UserMessage(err))
			}
			if exit {
				return nil
			}
			continue
		}

		if err := s.sendMessage(ctx, input); err != nil {
			s.printError(angelerrors.UserMessage(err))
		}
	}
}

func (s *Session) prompt() string {
	if len(s.pending) > 0 {
		return s.colorize(ui.Cyan, fmt.Sprintf("[%d📎] > ", len(s.pending)))
	}
	return s.colorize(ui.Cyan, "> ")
}

func (s *Session) sendMessage(ctx context.Context, input string) error {
	attachments := s.pending
	streaming := s.conv.Options().Streaming
	live := streaming && !s.renderer.Markdown()

	printed := 0
	if live {
		s.printHeader(transcript.Turn{Role: transcript.RoleAssistant})
	}
	turn, err := s.conv.Submit(ctx, input, attachments, func(t transcript.Turn) {
		if !live || len(t.Content) <= printed {
			return
		}
		fmt.Fprint(s.output, t.Content[printed:])
		printed = len(t.Content)
	})
	if live && printed > 0 {
		fmt.Fprintln(s.output)
	}
	s.save(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	s.pending = nil

	if !live {
		s.printHeader(turn)
		s.printAssistant(turn.Content)
	}
	for _, url := range turn.Attachments {
		s.println(s.colorize(ui.Gray, "🖼  "+url))
	}
	return nil
}

// save persists turns added since the last save. Storage failures are
// logged and never interrupt the chat.
func (s *Session) save(ctx context.Context) {
	if s.archive == nil {
		return
	}
	turns := s.conv.Transcript().Snapshot()
	if s.saved > len(turns) {
		s.saved = 0
	}
	fresh := Unsaved(turns, s.saved)
	if len(fresh) == 0 {
		return
	}

	if s.sessionID == 0 {
		id, err := s.archive.CreateSession(ctx, SessionName(turns))
		if err != nil {
			s.logger.Warn("failed to create session", zap.Error(err))
			return
		}
		s.sessionID = id
	}
	if err := s.archive.AppendTurns(ctx, s.sessionID, fresh); err != nil {
		s.logger.Warn("failed to save turns", zap.Int64("session_id", s.sessionID), zap.Error(err))
		return
	}
	s.saved = len(turns)
}

// Unsaved returns the turns after the first saved that are worth storing.
// An empty assistant turn left by a failed exchange is skipped.
func Unsaved(turns []transcript.Turn, saved int) []transcript.Turn {
	if saved > len(turns) {
		saved = 0
	}
	fresh := make([]transcript.Turn, 0, len(turns)-saved)
	for _, t := range turns[saved:] {
		if t.Role == transcript.RoleAssistant && t.Content == "" {
			continue
		}
		fresh = append(fresh, t)
	}
	return fresh
}

// SessionName names a new session after its first user turn.
func SessionName(turns []transcript.Turn) string {
	for _, t := range turns {
		if t.Role == transcript.RoleUser {
			return ui.Preview(t.Content, 60)
		}
	}
	return ""
}

// SplitThinking separates <think> sections from the answer.
func SplitThinking(text string) (thinking []string, answer string) {
	return thinkPattern.FindAllString(text, -1), strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
}

func (s *Session) handleCommand(input string) (exit bool, err error) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	if err := validation.ValidateCommand(cmd); err != nil {
		return false, err
	}

	switch cmd {
	case "/exit", "/quit":
		s.println(s.colorize(ui.Yellow, "Goodbye!"))
		return true, nil

	case "/reset", "/clear":
		if err := s.conv.Reset(); err != nil {
			return false, err
		}
		s.sessionID = 0
		s.saved = 0
		s.pending = nil
		s.println(s.colorize(ui.Yellow, "History cleared."))
		return false, nil

	case "/help":
		s.printHelp()
		return false, nil

	case "/history":
		s.printHistory()
		return false, nil

	case "/markdown":
		enabled := !s.renderer.Markdown()
		s.renderer.SetMarkdown(enabled)
		status := "enabled"
		if !enabled {
			status = "disabled"
		}
		s.println(s.colorize(ui.Yellow, fmt.Sprintf("Markdown rendering %s.", status)))
		return false, nil

	case "/json":
		opts := s.conv.Options()
		opts.JSONMode = !opts.JSONMode
		s.conv.SetOptions(opts)
		s.println(s.colorize(ui.Yellow, fmt.Sprintf("JSON mode: %t.", opts.JSONMode)))
		return false, nil

	case "/system":
		if arg == "" {
			current := s.conv.Transcript().SystemPrompt()
			if current == "" {
				current = "(none)"
			}
			s.println(s.colorize(ui.Yellow, "System prompt: "+current))
			return false, nil
		}
		if err := validation.ValidateMessage(arg); err != nil {
			return false, err
		}
		s.conv.Transcript().SetSystemPrompt(arg)
		s.println(s.colorize(ui.Yellow, "System prompt set; it applies from the next conversation (/reset)."))
		return false, nil

	case "/attach":
		if arg == "" {
			return false, angelerrors.NewValidationError("attachment", "usage: /attach <image path or URL>", nil, nil)
		}
		next := append(append([]string(nil), s.pending...), arg)
		if err := validation.ValidateAttachments(next); err != nil {
			return false, err
		}
		s.pending = next
		s.println(s.colorize(ui.Yellow, fmt.Sprintf("Attached %s to the next message.", arg)))
		return false, nil

	default:
		return false, angelerrors.NewCommandError(cmd, fmt.Sprintf("unknown command %q. Try /help", cmd), nil)
	}
}

func (s *Session) printWelcome() {
	s.println(s.colorize(ui.Cyan, fmt.Sprintf("=== Angel v%s ===", s.version)))
	opts := s.conv.Options()
	s.println(fmt.Sprintf("Model: %s | Temperature: %.1f | Streaming: %t", s.model, opts.Temperature, opts.Streaming))
	s.println(s.colorize(ui.Yellow, "Type /help for commands, /exit to quit"))
	s.println("")
}

func (s *Session) printHelp() {
	help := `Available commands:
  /help            - Show this help message
  /exit            - Exit the chat
  /reset           - Clear conversation history
  /history         - Show conversation history
  /markdown        - Toggle markdown rendering
  /json            - Toggle JSON response mode
  /system [prompt] - Show or set the system prompt
  /attach <image>  - Attach an image path or URL to the next message`
	s.println(s.colorize(ui.Yellow, help))
}

func (s *Session) printHistory() {
	turns := s.conv.Transcript().Snapshot()
	if len(turns) == 0 {
		s.println(s.colorize(ui.Yellow, "No history yet."))
		return
	}

	s.println(s.colorize(ui.Yellow, "=== History ==="))
	for i, t := range turns {
		s.println(fmt.Sprintf("[%d] %s %s", i+1, s.header(t), ui.Preview(t.Content, 70)))
	}
}

func (s *Session) header(t transcript.Turn) string {
	if !s.useColors {
		h := t.Role.DisplayName() + ":"
		if s.showTimestamps && !t.CreatedAt.IsZero() {
			h = fmt.Sprintf("%s (%s):", t.Role.DisplayName(), ui.FormatTimestamp(t.CreatedAt))
		}
		return h
	}
	return ui.CreateMessageHeader(t, s.showTimestamps)
}

func (s *Session) printHeader(t transcript.Turn) {
	s.println(s.header(t))
}

// printAssistant prints reasoning sections dimmed and renders the rest.
func (s *Session) printAssistant(text string) {
	thinking, answer := SplitThinking(text)
	for _, think := range thinking {
		s.println(s.colorize(ui.Faint+ui.Gray, think))
	}
	if answer == "" {
		return
	}
	fmt.Fprint(s.output, s.renderer.Render(answer))
}

func (s *Session) printError(text string) {
	s.println(s.colorize(ui.Red, "Error: "+text))
}

func (s *Session) println(text string) {
	fmt.Fprintln(s.output, text)
}

func (s *Session) colorize(color, text string) string {
	if !s.useColors {
		return text
	}
	return color + text + ui.Reset
}
