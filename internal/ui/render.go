package ui

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ZaguanLabs/angel/internal/segment"
)

const renderCacheSize = 256

// Renderer turns message content into terminal output. Text blocks go
// through glamour, code blocks through CodeBlock. Finished renders are
// cached by content, so redrawing a long transcript only renders the turn
// that changed.
type Renderer struct {
	mu       sync.Mutex
	md       *glamour.TermRenderer
	width    int
	style    string
	opts     CodeOptions
	markdown bool
	cache    *lru.Cache[string, string]
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithCodeOptions sets the code block options.
func WithCodeOptions(opts CodeOptions) RendererOption {
	return func(r *Renderer) { r.opts = opts }
}

// WithMarkdown enables or disables markdown rendering of text blocks.
func WithMarkdown(enabled bool) RendererOption {
	return func(r *Renderer) { r.markdown = enabled }
}

// WithStyle sets the glamour style, e.g. "dark", "light" or "notty".
func WithStyle(style string) RendererOption {
	return func(r *Renderer) { r.style = style }
}

// NewRenderer creates a renderer that wraps text at width columns.
func NewRenderer(width int, opts ...RendererOption) (*Renderer, error) {
	r := &Renderer{style: "dark", markdown: true}
	for _, opt := range opts {
		opt(r)
	}
	cache, err := lru.New[string, string](renderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create render cache: %w", err)
	}
	r.cache = cache
	if err := r.resize(width); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) resize(width int) error {
	if width < 20 {
		width = 80
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStylePath(r.style),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	r.md = md
	r.width = width
	return nil
}

// SetWidth rebuilds the markdown renderer for a new terminal width.
func (r *Renderer) SetWidth(width int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if width == r.width {
		return nil
	}
	if err := r.resize(width); err != nil {
		return err
	}
	r.cache.Purge()
	return nil
}

// Width returns the wrap width.
func (r *Renderer) Width() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width
}

// SetMarkdown toggles markdown rendering of text blocks.
func (r *Renderer) SetMarkdown(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markdown = enabled
}

// Markdown reports whether markdown rendering is enabled.
func (r *Renderer) Markdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markdown
}

func cacheKey(markdown bool, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%t:%s", markdown, hex.EncodeToString(sum[:]))
}

// Render renders content. Rendering never fails: a text block glamour
// cannot handle is shown as plain text.
func (r *Renderer) Render(content string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey(r.markdown, content)
	if out, ok := r.cache.Get(key); ok {
		return out
	}

	var sb strings.Builder
	for _, b := range segment.Parse(content) {
		if b.IsCode() {
			sb.WriteString(NewCodeBlock(b, r.opts).Terminal())
			continue
		}
		sb.WriteString(r.renderText(b))
	}
	out := sb.String()
	r.cache.Add(key, out)
	return out
}

// RenderPartial renders content that is still streaming. An unterminated
// fence is shown raw until its closing fence arrives, and nothing is cached.
func (r *Renderer) RenderPartial(content string) string {
	if !segment.HasOpenFence(content) {
		return r.Render(content)
	}
	return content
}

func (r *Renderer) renderText(b segment.Block) string {
	if !r.markdown || r.md == nil {
		return segment.StripEmphasis(b.Raw) + "\n"
	}
	out, err := r.md.Render(b.Raw)
	if err != nil {
		return b.Raw + "\n"
	}
	return out
}
