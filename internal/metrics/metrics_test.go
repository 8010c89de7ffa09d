package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/storyhook/internal/events"
)

func TestHandle_countsImports(t *testing.T) {
	m := New()
	bus := events.NewBus(nil)
	bus.SubscribeAll(m.Handle)
	ctx := context.Background()

	bus.Publish(ctx, events.RecordCreated(events.RecordPayload{RecordID: 1}))
	bus.Publish(ctx, events.RecordUpdated(events.RecordPayload{RecordID: 1}))
	bus.Publish(ctx, events.RecordUpdated(events.RecordPayload{RecordID: 1}))
	bus.Publish(ctx, events.ImportFailed(events.ImportFailedPayload{Code: "upstream_fetch_failed"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.imports.WithLabelValues("created", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.imports.WithLabelValues("updated", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imports.WithLabelValues("failed", "upstream_fetch_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(events.KindRecordUpdated))))
}

func TestObserveSideload(t *testing.T) {
	m := New()
	m.ObserveSideload("ok", 1024)
	m.ObserveSideload("ok", 10)
	m.ObserveSideload("invalid_url", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sideloads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sideloads.WithLabelValues("invalid_url")))
	assert.Equal(t, 1034.0, testutil.ToFloat64(m.sideloadBytes))
}

func TestHandler_exposesCollectors(t *testing.T) {
	m := New()
	m.ObserveWebhook(http.StatusOK, 120*time.Millisecond)
	m.ObserveSideload("download_failed", 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `storyhook_webhook_request_duration_seconds_count{status="200"} 1`)
	assert.Contains(t, string(body), `storyhook_sideloads_total{outcome="download_failed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
