// Package htmlsanitize cleans user-supplied markup (task submission notes)
// before it is stored.
package htmlsanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugc    = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

// Sanitize keeps user-generated-content formatting (paragraphs, lists,
// links, emphasis) and strips scripts, handlers, and unsafe URLs.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(ugc.Sanitize(s))
}

// PlainText strips every tag.
func PlainText(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}

// IsEmpty reports whether s has no visible text once markup is removed.
func IsEmpty(s string) bool {
	return PlainText(s) == ""
}

// IsPlainText reports whether s contains no HTML tags.
func IsPlainText(s string) bool {
	open := strings.Index(s, "<")
	if open < 0 {
		return true
	}
	end := strings.Index(s[open:], ">")
	if end < 0 {
		return true
	}
	tag := s[open+1 : open+end]
	return tag == "" || strings.ContainsAny(tag[:1], " 0123456789=")
}
