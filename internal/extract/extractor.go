// Package extract reduces a rendered HTML document to the fragment that becomes a record body.
package extract

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Extractor returns the inner markup of a document's <body>.
type Extractor struct {
	stripWrappingDiv bool
	logger           *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets a logger for debug output (discarded documents, decode failures).
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// WithStripWrappingDiv enables removal of a single bare <div> wrapping the whole body.
func WithStripWrappingDiv(enabled bool) ExtractorOption {
	return func(e *Extractor) { e.stripWrappingDiv = enabled }
}

// NewExtractor returns an Extractor. Wrapping-div removal is off unless enabled.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// StructureError is reported when the markup closes an element that was never opened.
type StructureError struct {
	Tag    string
	Offset int
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("unmatched closing tag </%s> at byte %d", e.Tag, e.Offset)
}

// Extract returns the body fragment of fullHTML with surrounding whitespace trimmed.
// Input without a <body> is treated as a bare fragment. A document with a structural
// error yields "" rather than partial output. Bytes inside the body are copied through
// unchanged, so entities and multibyte characters survive exactly.
func (e *Extractor) Extract(fullHTML string) string {
	src, err := decodeUTF8(fullHTML)
	if err != nil {
		e.logger.Debug("extract: charset decode failed", zap.Error(err))
		return ""
	}
	body, err := BodyContents(src)
	if err != nil {
		e.logger.Debug("extract: discarding malformed document", zap.Error(err))
		return ""
	}
	if e.stripWrappingDiv {
		body = StripWrappingDiv(body)
	}
	return body
}

// decodeUTF8 returns s unchanged when it is valid UTF-8; otherwise it is converted using the
// encoding the document declares (or the HTML5 default when it declares none).
func decodeUTF8(s string) (string, error) {
	if utf8.ValidString(s) {
		return s, nil
	}
	r, err := charset.NewReader(strings.NewReader(s), "text/html")
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// headElements may appear inside <head>. Any other start tag closes an open head.
var headElements = map[string]bool{
	"base": true, "link": true, "meta": true, "noscript": true, "script": true,
	"style": true, "template": true, "title": true,
}

// BodyContents walks the token stream of src and returns the raw markup between
// <body> and </body>. Without an explicit <body>, everything outside the document
// shell (doctype, html, head) is returned. Closing an element that is not open is a
// *StructureError, except </br> and </p>, which are read as <br> and <p></p>, and a
// </head> after the head already ended.
// Elements left open at EOF are tolerated, and <head> ends implicitly at <body> or
// at the first start tag that cannot appear in a head, which also opens the body.
func BodyContents(src string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(src))

	var (
		stack     []string
		body      strings.Builder
		loose     strings.Builder
		inHead    bool
		inBody    bool
		sawBody   bool
		afterBody bool
		offset    int
	)
	closeHead := func() {
		if i := lastIndex(stack, "head"); i >= 0 {
			stack = stack[:i]
		}
		inHead = false
	}
	emit := func(raw string) {
		switch {
		case inHead:
		case inBody:
			body.WriteString(raw)
		case !afterBody:
			loose.WriteString(raw)
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			return "", z.Err()
		}
		// TagName lowercases the buffer in place, so copy the raw bytes first.
		raw := string(z.Raw())
		pos := offset
		offset += len(raw)

		switch tt {
		case html.DoctypeToken:
			continue
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch tag {
			case "html":
				stack = append(stack, tag)
				continue
			case "head":
				stack = append(stack, tag)
				inHead = true
				continue
			case "body":
				if inHead {
					closeHead()
				}
				stack = append(stack, tag)
				if !sawBody {
					sawBody, inBody = true, true
				}
				continue
			}
			if inHead && !headElements[tag] && lastIndex(stack, "head") == len(stack)-1 {
				closeHead()
				if !sawBody {
					stack = append(stack, "body")
					sawBody, inBody = true, true
				}
			}
			if !voidElements[tag] {
				stack = append(stack, tag)
			}
			emit(raw)
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			i := lastIndex(stack, tag)
			if i < 0 {
				switch tag {
				case "br":
					emit("<br>")
					continue
				case "p":
					emit("<p></p>")
					continue
				case "head":
					continue
				}
				return "", &StructureError{Tag: tag, Offset: pos}
			}
			stack = stack[:i]
			switch tag {
			case "html":
				continue
			case "head":
				inHead = false
				continue
			case "body":
				if inBody {
					inBody, afterBody = false, true
				}
				continue
			}
			emit(raw)
		default:
			emit(raw)
		}
	}

	if sawBody {
		return strings.TrimSpace(body.String()), nil
	}
	return strings.TrimSpace(loose.String()), nil
}

func lastIndex(stack []string, tag string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == tag {
			return i
		}
	}
	return -1
}
