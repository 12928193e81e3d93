package ui

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/ZaguanLabs/angel/internal/segment"
)

const (
	DefaultTheme    = "tomorrow"
	DefaultFontSize = 14
)

// themes maps the configurable theme names to chroma styles. Names chroma
// already knows are used as-is.
var themes = map[string]string{
	"tomorrow":       "onedark",
	"okaidia":        "monokai",
	"solarizedlight": "solarized-light",
}

// CodeOptions control how code blocks are rendered.
type CodeOptions struct {
	Theme       string
	LineNumbers bool
	// FontSize is in pixels and only applies to HTML output.
	FontSize int
}

// ThemeStyle resolves a theme name to a chroma style, falling back to the
// default theme for unknown names.
func ThemeStyle(theme string) *chroma.Style {
	name := strings.ToLower(strings.TrimSpace(theme))
	if mapped, ok := themes[name]; ok {
		name = mapped
	}
	if s, ok := styles.Registry[name]; ok {
		return s
	}
	return styles.Get(themes[DefaultTheme])
}

// CodeBlock is a fenced code block ready for display.
type CodeBlock struct {
	Language string
	Code     string
	CodeOptions
}

// NewCodeBlock builds a CodeBlock from a segmented code block.
func NewCodeBlock(b segment.Block, opts CodeOptions) CodeBlock {
	lang := b.Language
	if lang == "" {
		lang = segment.DefaultLanguage
	}
	return CodeBlock{Language: lang, Code: b.Content, CodeOptions: opts}
}

func (c CodeBlock) lexer() chroma.Lexer {
	lexer := lexers.Get(c.Language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

func (c CodeBlock) fontSize() int {
	if c.FontSize <= 0 {
		return DefaultFontSize
	}
	return c.FontSize
}

// highlight returns the code formatted for a 256-colour terminal, or the
// code unchanged when highlighting fails.
func (c CodeBlock) highlight() string {
	iterator, err := c.lexer().Tokenise(nil, c.Code)
	if err != nil {
		return c.Code
	}
	var buf strings.Builder
	if err := formatters.TTY256.Format(&buf, ThemeStyle(c.Theme), iterator); err != nil {
		return c.Code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Terminal renders the block with a language header, syntax highlighting
// and optional line numbers.
func (c CodeBlock) Terminal() string {
	lines := strings.Split(c.highlight(), "\n")
	numWidth := len(fmt.Sprint(len(lines)))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s┌─ %s %s%s\n", DarkGray, GetLanguageEmoji(c.Language), c.Language, Reset))
	for i, line := range lines {
		sb.WriteString(DarkGray + "│" + Reset + " ")
		if c.LineNumbers {
			sb.WriteString(fmt.Sprintf("%s%*d%s ", Gray, numWidth, i+1, Reset))
		}
		sb.WriteString(line)
		sb.WriteString(Reset + "\n")
	}
	sb.WriteString(DarkGray + "└" + CreateSeparator(len(c.Language)+6, "thin") + Reset + "\n")
	return sb.String()
}

// HTML renders the block as an inline-styled <pre> wrapped in a div that
// carries the language and font size.
func (c CodeBlock) HTML() (string, error) {
	iterator, err := c.lexer().Tokenise(nil, c.Code)
	if err != nil {
		return "", fmt.Errorf("tokenise %s code: %w", c.Language, err)
	}

	formatter := chromahtml.New(
		chromahtml.WithClasses(false),
		chromahtml.WithLineNumbers(c.LineNumbers),
		chromahtml.TabWidth(4),
	)
	var buf strings.Builder
	fmt.Fprintf(&buf, `<div class="code-block language-%s" style="font-size:%dpx">`,
		classToken(c.Language), c.fontSize())
	if err := formatter.Format(&buf, ThemeStyle(c.Theme), iterator); err != nil {
		return "", fmt.Errorf("format %s code: %w", c.Language, err)
	}
	buf.WriteString("</div>")
	return buf.String(), nil
}

// classToken reduces a language tag to characters safe in a class name.
func classToken(lang string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(lang) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		case r == '+':
			sb.WriteString("p")
		case r == '#':
			sb.WriteString("sharp")
		}
	}
	if sb.Len() == 0 {
		return segment.DefaultLanguage
	}
	return sb.String()
}
