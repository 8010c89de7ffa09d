package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/storyhook/internal/events"
	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/internal/storage"
)

type testEnv struct {
	store    *storage.SQLiteStorage
	bus      *events.Bus
	loader   *Sideloader
	mediaDir string
	record   *models.ContentRecord
	hits     *atomic.Int32
	srv      *httptest.Server
}

func newTestEnv(t *testing.T, maxBytes int64) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rec := &models.ContentRecord{Title: "T", AuthorID: "author-7"}
	require.NoError(t, store.CreateRecord(context.Background(), rec))

	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/missing.jpg":
			http.NotFound(w, r)
		case "/big.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(make([]byte, 2048))
		default:
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			_, _ = w.Write([]byte("jpegdata"))
		}
	}))
	t.Cleanup(srv.Close)

	mediaDir := filepath.Join(dir, "media")
	bus := events.NewBus(nil)
	loader := NewSideloader(NewHTTPFetcher(5*time.Second, "storyhook-test", maxBytes),
		store, store, bus, mediaDir, "http://localhost:8080/media/")
	return &testEnv{store: store, bus: bus, loader: loader, mediaDir: mediaDir, record: rec, hits: hits, srv: srv}
}

func tempFiles(t *testing.T, mediaDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(mediaDir, tempDirName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSideload_success(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	var published []events.SideloadPayload
	env.bus.Subscribe(events.KindAssetSideloaded, func(_ context.Context, e events.Event) {
		published = append(published, e.Payload.(events.SideloadPayload))
	})

	remote := env.srv.URL + "/v1/prod/i-1/photo.jpg"
	asset, err := env.loader.Sideload(ctx, remote, env.record.ID, map[string]string{
		models.MetaAltText: "A cat",
		"caption":          "",
	})
	require.NoError(t, err)

	assert.Equal(t, remote, asset.OriginURL)
	assert.Equal(t, "author-7", asset.AuthorID, "asset inherits the record author")
	assert.Equal(t, "image/jpeg", asset.MIMEType)
	assert.Equal(t, int64(8), asset.Size)
	assert.Equal(t, map[string]string{models.MetaAltText: "A cat"}, asset.Metadata, "empty values dropped")
	assert.Regexp(t, `^http://localhost:8080/media/r\d+/[0-9a-f]{16}-photo\.jpg$`, asset.LocalURL)

	data, err := os.ReadFile(asset.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
	assert.Empty(t, tempFiles(t, env.mediaDir))

	stored, err := env.store.ListAssets(ctx, env.record.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, asset.ID, stored[0].ID)

	require.Len(t, published, 1)
	assert.Equal(t, remote, published[0].RemoteURL)
	assert.Equal(t, env.record.ID, published[0].RecordID)
	assert.Equal(t, "A cat", published[0].Metadata[models.MetaAltText])
}

func TestSideload_invalidURL(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, u := range []string{"", "not a url", "ftp://example.com/a.jpg", "/relative.jpg", "http://"} {
		_, err := env.loader.Sideload(context.Background(), u, env.record.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
	assert.Equal(t, int32(0), env.hits.Load())
}

func TestSideload_downloadFailureCleansUp(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.loader.Sideload(context.Background(), env.srv.URL+"/missing.jpg", env.record.ID, nil)
	require.Error(t, err)
	assert.Empty(t, tempFiles(t, env.mediaDir))

	n, _ := env.store.CountAssets(context.Background())
	assert.Equal(t, int64(0), n)
}

func TestSideload_sizeLimit(t *testing.T) {
	env := newTestEnv(t, 1024)
	_, err := env.loader.Sideload(context.Background(), env.srv.URL+"/big.jpg", env.record.ID, nil)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, tempFiles(t, env.mediaDir))
}

func TestSideload_cancelledContext(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.loader.Sideload(ctx, env.srv.URL+"/a.jpg", env.record.ID, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tempFiles(t, env.mediaDir))
}

func TestSideload_passReusesOutcome(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := WithPass(context.Background())

	first, err := env.loader.Sideload(ctx, env.srv.URL+"/a.jpg", env.record.ID, nil)
	require.NoError(t, err)
	again, err := env.loader.Sideload(WithPass(ctx), env.srv.URL+"/a.jpg", env.record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = env.loader.Sideload(ctx, env.srv.URL+"/missing.jpg", env.record.ID, nil)
	require.Error(t, err)
	_, err = env.loader.Sideload(ctx, env.srv.URL+"/missing.jpg", env.record.ID, nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), env.hits.Load())

	// Outside a pass every call downloads.
	_, err = env.loader.Sideload(context.Background(), env.srv.URL+"/a.jpg", env.record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), env.hits.Load())

	n, _ := env.store.CountAssets(context.Background())
	assert.Equal(t, int64(2), n)
}

func TestValidateURL(t *testing.T) {
	got, err := ValidateURL("//images.airstory.co/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://images.airstory.co/a.jpg", got)

	_, err = ValidateURL("mailto:someone@example.com")
	assert.ErrorIs(t, err, ErrInvalidURL)
}
