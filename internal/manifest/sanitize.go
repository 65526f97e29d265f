package manifest

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	colorStart = regexp.MustCompile(`\|c[0-9a-fA-F]{8}`)
	// |Hlink|htext|h keeps the text
	hyperlink = regexp.MustCompile(`\|H[^|]*\|h(.*?)\|h`)
	texture   = regexp.MustCompile(`\|[TA][^|]*\|[ta]`)
	controls  = strings.NewReplacer("|r", "", "|R", "", "|n", " ", "||", "|")
	spaces    = regexp.MustCompile(`\s+`)

	strict = bluemonday.StrictPolicy()
)

// SanitizeTitle strips in-game color, texture and hyperlink escapes and any
// HTML from a manifest value, then collapses whitespace and repeated
// punctuation.
func SanitizeTitle(s string) string {
	s = hyperlink.ReplaceAllString(s, "$1")
	s = texture.ReplaceAllString(s, "")
	s = colorStart.ReplaceAllString(s, "")
	s = controls.Replace(s)

	s = html.UnescapeString(strict.Sanitize(s))

	s = spaces.ReplaceAllString(s, " ")
	s = collapsePunctuation(s)
	return strings.TrimSpace(s)
}

// collapsePunctuation reduces runs of the same punctuation rune to one
func collapsePunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune = -1
	for _, r := range s {
		if r == prev && unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}
