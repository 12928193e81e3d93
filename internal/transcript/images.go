package transcript

import (
	"regexp"
	"strings"

	"github.com/ZaguanLabs/angel/internal/segment"
)

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*(\S+?)(?:\s+"[^"]*")?\s*\)`)
	bareImageURL  = regexp.MustCompile(`(?i)\bhttps?://[^\s<>()"']+\.(?:png|jpe?g|gif|webp|svg)(?:\?[^\s<>()"']*)?`)
)

// ExtractImageURLs returns image URLs referenced in the prose of content,
// in order of first appearance. URLs inside fenced code are ignored.
func ExtractImageURLs(content string) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, b := range segment.Parse(content) {
		if b.IsCode() {
			continue
		}
		rest := b.Raw
		for _, m := range markdownImage.FindAllStringSubmatch(rest, -1) {
			add(m[1])
		}
		rest = markdownImage.ReplaceAllString(rest, "")
		for _, u := range bareImageURL.FindAllString(rest, -1) {
			add(strings.TrimRight(u, ".,;:!"))
		}
	}
	return urls
}
