package media

import (
	"bytes"
	"context"
	"html"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	xhtml "golang.org/x/net/html"

	"github.com/hyperjump/storyhook/internal/models"
)

// DefaultAllowedDomains are the hosts the source service serves document images from.
var DefaultAllowedDomains = []string{"images.airstory.co", "res.cloudinary.com"}

// AssetSideloader is implemented by *Sideloader.
type AssetSideloader interface {
	Sideload(ctx context.Context, remoteURL string, recordID int64, meta map[string]string) (*models.Asset, error)
}

// Result is the outcome of a rewrite pass.
type Result struct {
	HTML string
	// Replaced counts img elements whose src was rewritten, not images scanned.
	Replaced int
}

// Changed reports whether the pass produced different markup from input.
func (r Result) Changed(input string) bool { return r.HTML != input }

// Rewriter replaces remote image sources with sideloaded local copies.
type Rewriter struct {
	sideloader AssetSideloader
	logger     *zap.Logger
}

// NewRewriter returns a rewriter. logger may be nil.
func NewRewriter(sideloader AssetSideloader, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{sideloader: sideloader, logger: logger}
}

// HostAllowed reports whether rawURL's host matches one of the patterns. Patterns are
// hostnames or doublestar globs such as "*.cloudinary.com"; matching ignores case and port.
func HostAllowed(rawURL string, patterns []string) bool {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if p == host {
			return true
		}
		if ok, err := doublestar.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}

type imageRef struct {
	src string
	alt string
}

// Rewrite sideloads every allowed image in fragment once per distinct src, attaching
// the assets to recordID, and rewrites each matching src to the local URL. Sideload
// failures are logged and leave that image untouched. If ctx is done when the
// downloads finish, fragment is returned unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, recordID int64, fragment string, allowed []string) Result {
	unchanged := Result{HTML: fragment}
	ctx = WithPass(ctx)

	refs, err := scanImages(fragment)
	if err != nil {
		r.logger.Warn("media rewrite: parse failed", zap.Int64("record_id", recordID), zap.Error(err))
		return unchanged
	}

	// remote src -> local url; "" marks a failed sideload so it is not retried in this pass.
	local := make(map[string]string)
	for _, ref := range refs {
		if _, seen := local[ref.src]; seen {
			continue
		}
		if !HostAllowed(ref.src, allowed) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		asset, err := r.sideloader.Sideload(ctx, ref.src, recordID, map[string]string{models.MetaAltText: ref.alt})
		if err != nil {
			r.logger.Warn("asset sideload skipped",
				zap.String("remote_url", ref.src),
				zap.Int64("record_id", recordID),
				zap.Error(err),
			)
			local[ref.src] = ""
			continue
		}
		local[ref.src] = asset.LocalURL
	}
	if ctx.Err() != nil {
		return unchanged
	}

	out, n, err := replaceSources(fragment, local)
	if err != nil {
		r.logger.Warn("media rewrite: serialize failed", zap.Int64("record_id", recordID), zap.Error(err))
		return unchanged
	}
	return Result{HTML: out, Replaced: n}
}

// scanImages lists img elements with a src, in document order.
func scanImages(fragment string) ([]imageRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}
	var refs []imageRef
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.TrimSpace(src) == "" {
			return
		}
		alt, _ := s.Attr("alt")
		refs = append(refs, imageRef{src: src, alt: alt})
	})
	return refs, nil
}

// replaceSources copies fragment through unchanged except for img tags whose src has a
// non-empty entry in local; those tags are re-rendered with the new src.
func replaceSources(fragment string, local map[string]string) (string, int, error) {
	var buf bytes.Buffer
	buf.Grow(len(fragment))
	z := xhtml.NewTokenizer(strings.NewReader(fragment))
	replaced := 0
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return "", 0, err
			}
			return buf.String(), replaced, nil
		}
		raw := z.Raw()
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			buf.Write(raw)
			continue
		}
		// Raw must be copied before Token() reuses the buffer.
		rawCopy := append([]byte(nil), raw...)
		tok := z.Token()
		if tok.Data != "img" {
			buf.Write(rawCopy)
			continue
		}
		idx, to := -1, ""
		for i, a := range tok.Attr {
			if a.Namespace == "" && a.Key == "src" {
				if l := local[a.Val]; l != "" {
					idx, to = i, l
				}
				break
			}
		}
		if idx < 0 {
			buf.Write(rawCopy)
			continue
		}
		tok.Attr[idx].Val = to
		writeImg(&buf, tok.Attr)
		replaced++
	}
}

func writeImg(buf *bytes.Buffer, attrs []xhtml.Attribute) {
	buf.WriteString("<img")
	for _, a := range attrs {
		buf.WriteByte(' ')
		if a.Namespace != "" {
			buf.WriteString(a.Namespace)
			buf.WriteByte(':')
		}
		buf.WriteString(a.Key)
		buf.WriteString(`="`)
		buf.WriteString(html.EscapeString(a.Val))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
}
