package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/events"
	"github.com/hyperjump/storyhook/internal/mediafile"
	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/internal/storage"
)

// ErrInvalidURL is returned when a sideload URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid sideload url")

const tempDirName = ".tmp"

// Observer receives sideload outcomes. outcome is "ok", "invalid_url", "download_failed" or "persist_failed".
type Observer interface {
	ObserveSideload(outcome string, bytes int64)
}

// RecordReader is the part of the record store the sideloader needs.
type RecordReader interface {
	GetRecord(ctx context.Context, id int64) (*models.ContentRecord, error)
}

// Sideloader downloads a remote file and registers it as an asset of a record.
type Sideloader struct {
	fetcher  Fetcher
	assets   storage.AssetStore
	records  RecordReader
	bus      *events.Bus
	mediaDir string
	baseURL  string
	observer Observer
	logger   *zap.Logger
}

// SideloaderOption configures a Sideloader.
type SideloaderOption func(*Sideloader)

// WithSideloadLogger sets the logger.
func WithSideloadLogger(l *zap.Logger) SideloaderOption {
	return func(s *Sideloader) { s.logger = l }
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) SideloaderOption {
	return func(s *Sideloader) { s.observer = o }
}

// NewSideloader returns a sideloader that stores files under mediaDir and serves them
// from baseURL. bus may be nil.
func NewSideloader(fetcher Fetcher, assets storage.AssetStore, records RecordReader, bus *events.Bus, mediaDir, baseURL string, opts ...SideloaderOption) *Sideloader {
	s := &Sideloader{
		fetcher:  fetcher,
		assets:   assets,
		records:  records,
		bus:      bus,
		mediaDir: mediaDir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateURL returns the absolute form of rawURL, or ErrInvalidURL.
// Protocol-relative URLs are treated as https.
func ValidateURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u.String(), nil
}

// Sideload downloads remoteURL, stores it as an asset of recordID and publishes
// asset.sideloaded. Only non-empty metadata values are kept. The asset's author is
// the record's author.
//
// Within a pass started by WithPass, each URL is fetched at most once per
// record and later calls return the first outcome.
func (s *Sideloader) Sideload(ctx context.Context, remoteURL string, recordID int64, meta map[string]string) (*models.Asset, error) {
	target, err := ValidateURL(remoteURL)
	if err != nil {
		s.observe("invalid_url", 0)
		return nil, err
	}

	p := passFrom(ctx)
	if r, ok := p.lookup(recordID, target); ok {
		return r.asset, r.err
	}
	asset, err := s.sideload(ctx, target, recordID, meta)
	p.store(recordID, target, asset, err)
	return asset, err
}

func (s *Sideloader) sideload(ctx context.Context, target string, recordID int64, meta map[string]string) (*models.Asset, error) {
	dl, err := s.fetcher.Download(ctx, target, filepath.Join(s.mediaDir, tempDirName))
	if err != nil {
		s.observe("download_failed", 0)
		return nil, fmt.Errorf("download %s: %w", target, err)
	}

	name := mediafile.Name(recordID, target)
	dest := filepath.Join(s.mediaDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		_ = os.Remove(dl.Path)
		s.observe("persist_failed", 0)
		return nil, err
	}
	if err := os.Rename(dl.Path, dest); err != nil {
		_ = os.Remove(dl.Path)
		s.observe("persist_failed", 0)
		return nil, fmt.Errorf("move download: %w", err)
	}

	asset := &models.Asset{
		RecordID:  recordID,
		AuthorID:  s.authorOf(ctx, recordID),
		OriginURL: target,
		LocalURL:  s.baseURL + "/" + name,
		FilePath:  dest,
		MIMEType:  mimeType(dl.ContentType, name),
		Size:      dl.Size,
		Metadata:  nonEmpty(meta),
	}
	if err := s.assets.CreateAsset(ctx, asset); err != nil {
		_ = os.Remove(dest)
		s.observe("persist_failed", 0)
		return nil, fmt.Errorf("create asset: %w", err)
	}
	s.observe("ok", dl.Size)

	s.logger.Debug("sideloaded asset",
		zap.String("remote_url", target),
		zap.Int64("record_id", recordID),
		zap.Int64("asset_id", asset.ID),
	)
	if s.bus != nil {
		s.bus.Publish(ctx, events.AssetSideloaded(events.SideloadPayload{
			RemoteURL: target,
			RecordID:  recordID,
			AssetID:   asset.ID,
			LocalURL:  asset.LocalURL,
			Metadata:  asset.Metadata,
		}))
	}
	return asset, nil
}

func (s *Sideloader) authorOf(ctx context.Context, recordID int64) string {
	if s.records == nil {
		return ""
	}
	rec, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		s.logger.Warn("sideload: cannot read parent record", zap.Int64("record_id", recordID), zap.Error(err))
		return ""
	}
	return rec.AuthorID
}

func (s *Sideloader) observe(outcome string, n int64) {
	if s.observer != nil {
		s.observer.ObserveSideload(outcome, n)
	}
}

func nonEmpty(meta map[string]string) map[string]string {
	var out map[string]string
	for k, v := range meta {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(meta))
		}
		out[k] = v
	}
	return out
}

func mimeType(contentType, name string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			return mt
		}
	}
	return mime.TypeByExtension(path.Ext(name))
}
