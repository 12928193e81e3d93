// Package segment splits model output into an ordered list of prose and
// fenced code blocks. It understands exactly one block construct (``` fences)
// and one inline construct (**bold**).
package segment

import (
	"regexp"
	"strings"
)

// Kind is the type of a Block.
type Kind string

const (
	KindText Kind = "text"
	KindCode Kind = "code"
)

// DefaultLanguage is used for fences that carry no language tag.
const DefaultLanguage = "plaintext"

// Span is a half-open byte range [Start, End) into the parsed message.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Block is one rendered unit of a message.
//
// For code blocks Content is the fenced body, trimmed and otherwise
// untouched. For text blocks Content is HTML-escaped with **x** rewritten to
// <em>x</em>; Raw keeps the trimmed source text for renderers that do their
// own inline formatting.
type Block struct {
	Kind     Kind   `json:"kind"`
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
	Raw      string `json:"raw"`
	Span     Span   `json:"span"`
}

// IsCode reports whether b is a fenced code block.
func (b Block) IsCode() bool { return b.Kind == KindCode }

// fencePattern matches ```lang\n body ```. The body is non-greedy so the
// first closing fence ends the block; the fence may start mid-line.
var fencePattern = regexp.MustCompile("```([\\w+#.-]+)?[ \\t]*\\r?\\n((?s:.*?))```")

// Parse splits message into blocks in source order. It never fails: input
// that does not match the fence pattern, an unterminated fence included,
// comes back as text. Parse("") returns an empty slice.
//
// Whitespace-only gaps produce no block. Their bytes are folded into the
// span of the preceding block, or the following one at the start of the
// message, so the returned spans always cover the whole message.
func Parse(message string) []Block {
	p := parser{src: message, orphan: -1, blocks: make([]Block, 0, 4)}
	last := 0
	for _, m := range fencePattern.FindAllStringSubmatchIndex(message, -1) {
		start, end := m[0], m[1]
		if start > last {
			p.text(last, start)
		}
		lang := DefaultLanguage
		if m[2] >= 0 {
			lang = message[m[2]:m[3]]
		}
		body := strings.TrimSpace(message[m[4]:m[5]])
		p.push(Block{
			Kind:     KindCode,
			Language: lang,
			Content:  body,
			Raw:      body,
			Span:     Span{Start: start, End: end},
		})
		last = end
	}
	if last < len(message) {
		p.text(last, len(message))
	}
	return p.blocks
}

type parser struct {
	src    string
	blocks []Block
	// orphan is the start of a leading whitespace gap that no block owns
	// yet, or -1.
	orphan int
}

func (p *parser) push(b Block) {
	if p.orphan >= 0 {
		b.Span.Start = p.orphan
		p.orphan = -1
	}
	p.blocks = append(p.blocks, b)
}

func (p *parser) text(start, end int) {
	raw := strings.TrimSpace(p.src[start:end])
	if raw == "" {
		if n := len(p.blocks); n > 0 {
			p.blocks[n-1].Span.End = end
		} else if p.orphan < 0 {
			p.orphan = start
		}
		return
	}
	p.push(Block{
		Kind:    KindText,
		Content: Emphasize(raw),
		Raw:     raw,
		Span:    Span{Start: start, End: end},
	})
}

// CodeBlocks returns only the code blocks of message.
func CodeBlocks(message string) []Block {
	var out []Block
	for _, b := range Parse(message) {
		if b.IsCode() {
			out = append(out, b)
		}
	}
	return out
}

// HasOpenFence reports whether message contains a fence opener that has not
// been closed yet. Streaming front ends use it to hold back highlighting
// until the block is complete.
func HasOpenFence(message string) bool {
	rest := message
	if ms := fencePattern.FindAllStringIndex(message, -1); len(ms) > 0 {
		rest = message[ms[len(ms)-1][1]:]
	}
	return strings.Contains(rest, "```")
}
