package ui

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ZaguanLabs/angel/internal/segment"
)

var (
	styleValue = regexp.MustCompile(`^[a-zA-Z0-9:;#%.,()\- ]*$`)
	classValue = regexp.MustCompile(`^[a-z0-9 -]*$`)
)

// HTMLRenderer renders message content as an HTML fragment. Text blocks use
// the segmenter's escaped content; code blocks are highlighted by chroma.
// The result passes through a policy that allows only that markup.
type HTMLRenderer struct {
	opts   CodeOptions
	policy *bluemonday.Policy
}

// NewHTMLRenderer creates an HTML renderer.
func NewHTMLRenderer(opts CodeOptions) *HTMLRenderer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "em", "pre", "code", "span", "div", "table", "tbody", "tr", "td")
	p.AllowAttrs("class").Matching(classValue).OnElements("div", "span", "pre", "code", "p")
	p.AllowAttrs("style").Matching(styleValue).OnElements("div", "span", "pre", "code", "table", "td")
	return &HTMLRenderer{opts: opts, policy: p}
}

// Render converts content to sanitised HTML. A code block chroma cannot
// format falls back to escaped plain text.
func (h *HTMLRenderer) Render(content string) string {
	var sb strings.Builder
	for _, b := range segment.Parse(content) {
		if b.IsCode() {
			cb := NewCodeBlock(b, h.opts)
			out, err := cb.HTML()
			if err != nil {
				out = `<pre class="code-block"><code>` + html.EscapeString(b.Content) + `</code></pre>`
			}
			sb.WriteString(out)
			continue
		}
		sb.WriteString(`<p class="text-block">`)
		sb.WriteString(strings.ReplaceAll(b.Content, "\n", "<br>"))
		sb.WriteString(`</p>`)
	}
	return h.policy.Sanitize(sb.String())
}
