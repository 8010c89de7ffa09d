// Package utils provides shared utilities for text and logging.
package utils

import (
	"html"
	"io"
	"strings"
	"unicode"

	xhtml "golang.org/x/net/html"
)

// Truncate returns s truncated to maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// PlainText reduces s to a single line of text: tags are dropped, entities decoded,
// control characters removed and whitespace runs collapsed to one space.
func PlainText(s string) string {
	var b strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if z.Err() != io.EOF {
				// Tokenizer gave up; keep what is left as text.
				b.WriteString(html.UnescapeString(string(z.Raw())))
			}
			break
		}
		if tt == xhtml.TextToken {
			b.Write(z.Text())
		}
	}
	return collapseSpace(b.String())
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
