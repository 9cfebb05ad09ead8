package voice

import (
	"regexp"
	"strings"
)

var (
	codeFence  = regexp.MustCompile("(?m)^\\s*```.*$")
	image      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	link       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	heading    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	bullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	quote      = regexp.MustCompile(`(?m)^\s*>\s?`)
	rule       = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	strong     = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	emphasis   = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]`)
	inlineCode = regexp.MustCompile("`([^`]*)`")
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown removes markup that a speech engine would read aloud.
func StripMarkdown(s string) string {
	s = codeFence.ReplaceAllString(s, "")
	s = rule.ReplaceAllString(s, "")
	s = image.ReplaceAllString(s, "$1")
	s = link.ReplaceAllString(s, "$1")
	s = heading.ReplaceAllString(s, "")
	s = bullet.ReplaceAllString(s, "")
	s = quote.ReplaceAllString(s, "")
	s = strong.ReplaceAllString(s, "$2")
	s = emphasis.ReplaceAllString(s, "$1$2")
	s = inlineCode.ReplaceAllString(s, "$1")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
