package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var bareDivOpen = regexp.MustCompile(`(?i)^<div\s*>$`)

// StripWrappingDiv removes one attribute-less <div> when it wraps the entire fragment.
// Fragments with an attributed div, an unclosed div, or content after the closing tag are
// returned unchanged. Only one level is removed.
func StripWrappingDiv(fragment string) string {
	trimmed := strings.TrimSpace(fragment)
	z := html.NewTokenizer(strings.NewReader(trimmed))
	if z.Next() != html.StartTagToken || !bareDivOpen.Match(z.Raw()) {
		return fragment
	}
	openLen := len(z.Raw())
	pos := openLen
	depth := 1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return fragment
		}
		rawLen := len(z.Raw())
		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, _ := z.TagName()
			if string(name) == "div" {
				if tt == html.StartTagToken {
					depth++
				} else {
					depth--
				}
			}
			if depth == 0 {
				if strings.TrimSpace(trimmed[pos+rawLen:]) != "" {
					return fragment
				}
				return strings.TrimSpace(trimmed[openLen:pos])
			}
		}
		pos += rawLen
	}
}
