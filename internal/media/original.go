package media

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/events"
)

const canonicalSegment = "/v1/prod/"

// Family describes a host that embeds transform directives as the path segment
// immediately before "/v1/prod/". PathPrefix is the fixed path before that segment.
type Family struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"path_prefix"`
}

// DefaultFamilies are the image hosts used by the source service.
var DefaultFamilies = []Family{
	{Host: "images.airstory.co"},
	{Host: "res.cloudinary.com", PathPrefix: "/airstory/image/upload"},
}

type compiledFamily struct {
	Family
	modifier *regexp.Regexp
}

// OriginalResolver derives the untransformed URL of a sideloaded image and sideloads
// that original too.
type OriginalResolver struct {
	families   []compiledFamily
	sideloader AssetSideloader
	logger     *zap.Logger
}

// NewOriginalResolver returns a resolver for families. logger may be nil.
func NewOriginalResolver(sideloader AssetSideloader, families []Family, logger *zap.Logger) *OriginalResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &OriginalResolver{sideloader: sideloader, logger: logger}
	for _, f := range families {
		prefix := "/" + strings.Trim(f.PathPrefix, "/")
		if prefix == "/" {
			prefix = ""
		}
		f.PathPrefix = prefix
		o.families = append(o.families, compiledFamily{
			Family:   f,
			modifier: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `/[^/]+` + regexp.QuoteMeta(canonicalSegment)),
		})
	}
	return o
}

// Original returns the canonical URL for a transformed image URL. ok is false when the
// host is not a known family, the path has no modifier segment, or the URL is already
// canonical.
func (o *OriginalResolver) Original(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	p := u.EscapedPath()
	for _, f := range o.families {
		if !strings.EqualFold(f.Host, host) {
			continue
		}
		if strings.HasPrefix(p, f.PathPrefix+canonicalSegment) {
			return "", false
		}
		loc := f.modifier.FindStringIndex(p)
		if loc == nil {
			return "", false
		}
		canonical := f.PathPrefix + canonicalSegment + p[loc[1]:]
		scheme := u.Scheme
		if scheme == "" {
			scheme = "https"
		}
		out := scheme + "://" + u.Host + canonical
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		return out, true
	}
	return "", false
}

// MaybeFetchOriginal sideloads the original of remoteURL into recordID with the same
// metadata. Failures are logged.
func (o *OriginalResolver) MaybeFetchOriginal(ctx context.Context, remoteURL string, recordID int64, meta map[string]string) {
	orig, ok := o.Original(remoteURL)
	if !ok {
		return
	}
	if _, err := o.sideloader.Sideload(ctx, orig, recordID, meta); err != nil {
		o.logger.Warn("original asset sideload skipped",
			zap.String("remote_url", orig),
			zap.String("derived_from", remoteURL),
			zap.Int64("record_id", recordID),
			zap.Error(err),
		)
	}
}

// Handle is an events.Handler for asset.sideloaded.
func (o *OriginalResolver) Handle(ctx context.Context, e events.Event) {
	p, ok := e.Payload.(events.SideloadPayload)
	if !ok {
		return
	}
	o.MaybeFetchOriginal(ctx, p.RemoteURL, p.RecordID, p.Metadata)
}
