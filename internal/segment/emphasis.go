package segment

import (
	"html"
	"regexp"
)

// emphasisPattern matches **x** within a single line; x is non-empty and
// matched non-greedily so "**a** and **b**" yields two spans.
var emphasisPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)

// Emphasize escapes HTML metacharacters in text and then rewrites **x** to
// <em>x</em>. Escaping happens first so the only markup in the result is the
// markup added here.
func Emphasize(text string) string {
	return emphasisPattern.ReplaceAllString(html.EscapeString(text), "<em>$1</em>")
}

// StripEmphasis removes the ** markers without adding markup.
func StripEmphasis(text string) string {
	return emphasisPattern.ReplaceAllString(text, "$1")
}
