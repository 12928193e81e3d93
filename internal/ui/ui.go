package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/ZaguanLabs/angel/internal/transcript"
)

// ANSI colours for line-mode output.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Faint  = "\033[2m"
	Normal = "\033[22m"

	DeepBlue  = "\033[38;5;24m"  // user turns
	DeepGreen = "\033[38;5;28m"  // assistant turns
	Gray      = "\033[38;5;245m" // system text
	DarkGray  = "\033[38;5;238m" // code block frame
	Orange    = "\033[38;5;208m" // commands
	Cyan      = "\033[38;5;51m"
	Yellow    = "\033[38;5;226m"
	Red       = "\033[38;5;196m"
	Green     = "\033[38;5;82m"
)

// FormatTimestamp formats a turn time for headers.
func FormatTimestamp(t time.Time) string {
	return t.Format("3:04 PM")
}

// CreateSeparator creates a decorative separator line.
func CreateSeparator(width int, style string) string {
	if width <= 0 {
		width = 50
	}
	switch style {
	case "thick":
		return strings.Repeat("═", width)
	case "dots":
		return strings.Repeat("•", width)
	case "dashed":
		return strings.Repeat("┄", width)
	default:
		return strings.Repeat("─", width)
	}
}

func roleColor(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return DeepBlue
	case transcript.RoleAssistant:
		return DeepGreen
	default:
		return Gray
	}
}

func roleAvatar(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "👤"
	case transcript.RoleAssistant:
		return "😇"
	default:
		return "💬"
	}
}

// CreateMessageHeader renders "avatar Name" and, when withTime is set, the
// turn's time.
func CreateMessageHeader(turn transcript.Turn, withTime bool) string {
	header := fmt.Sprintf("%s%s %s%s%s", roleColor(turn.Role), roleAvatar(turn.Role), Bold, turn.Role.DisplayName(), Normal)
	if withTime && !turn.CreatedAt.IsZero() {
		header += fmt.Sprintf(" │ %s%s", Gray, FormatTimestamp(turn.CreatedAt))
	}
	return header + Reset
}

// CreateStatusMessage creates a coloured status line.
func CreateStatusMessage(emoji, message, statusType string) string {
	var color string
	switch statusType {
	case "success":
		color = Green
	case "error":
		color = Red
	case "warning":
		color = Yellow
	case "info":
		color = Cyan
	default:
		color = Gray
	}
	return fmt.Sprintf("%s%s %s%s", color, emoji, message, Reset)
}

// GetLanguageEmoji returns an emoji for common programming languages.
func GetLanguageEmoji(lang string) string {
	switch strings.ToLower(lang) {
	case "python", "py":
		return "🐍"
	case "javascript", "js", "jsx":
		return "🟨"
	case "typescript", "ts", "tsx":
		return "🔷"
	case "go", "golang":
		return "🔵"
	case "rust", "rs":
		return "🦀"
	case "java", "kotlin":
		return "☕"
	case "c", "c++", "cpp":
		return "⚡"
	case "html":
		return "🌐"
	case "css", "scss":
		return "🎨"
	case "json":
		return "📋"
	case "yaml", "yml", "toml":
		return "⚙️"
	case "bash", "sh", "shell", "zsh":
		return "💻"
	default:
		return "📄"
	}
}

// GetLoadingFrame returns a frame of the waiting animation.
func GetLoadingFrame(index int) string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	if index < 0 {
		index = -index
	}
	return frames[index%len(frames)]
}

// Truncate shortens text to maxWidth display cells, ending with "…" when
// cut. Wide characters count as two cells.
func Truncate(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	return runewidth.Truncate(text, maxWidth, "…")
}

// Preview returns the first line of text truncated for list views.
func Preview(text string, maxWidth int) string {
	line, _, cut := strings.Cut(strings.TrimSpace(text), "\n")
	if cut {
		line += " …"
	}
	return Truncate(line, maxWidth)
}

// WrapText wraps text to width display cells on word boundaries. Words
// wider than width are placed on their own line.
func WrapText(text string, width int) []string {
	var result []string
	for _, line := range strings.Split(text, "\n") {
		if runewidth.StringWidth(line) <= width {
			result = append(result, line)
			continue
		}

		current, currentWidth := "", 0
		for _, word := range strings.Fields(line) {
			w := runewidth.StringWidth(word)
			switch {
			case current == "":
				current, currentWidth = word, w
			case currentWidth+1+w <= width:
				current += " " + word
				currentWidth += 1 + w
			default:
				result = append(result, current)
				current, currentWidth = word, w
			}
		}
		if current != "" {
			result = append(result, current)
		}
	}
	return result
}
