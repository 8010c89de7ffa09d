// Package metrics exposes prometheus collectors for imports, sideloads and webhook traffic.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/storyhook/internal/events"
)

const namespace = "storyhook"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	imports         *prometheus.CounterVec
	events          *prometheus.CounterVec
	sideloads       *prometheus.CounterVec
	sideloadBytes   prometheus.Counter
	webhookDuration *prometheus.HistogramVec
}

// New registers all collectors, plus the Go and process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Document imports by result (created, updated, failed) and error code.",
		}, []string{"result", "code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the internal bus by kind.",
		}, []string{"kind"}),
		sideloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sideloads_total",
			Help:      "Remote media sideload attempts by outcome.",
		}, []string{"outcome"}),
		sideloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sideload_bytes_total",
			Help:      "Bytes written by successful sideloads.",
		}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_request_duration_seconds",
			Help:      "Webhook request latency by response status.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.imports, m.events, m.sideloads, m.sideloadBytes, m.webhookDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSideload implements media.Observer.
func (m *Metrics) ObserveSideload(outcome string, bytes int64) {
	m.sideloads.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.sideloadBytes.Add(float64(bytes))
	}
}

// ObserveWebhook records one webhook request.
func (m *Metrics) ObserveWebhook(status int, d time.Duration) {
	m.webhookDuration.WithLabelValues(strconv.Itoa(status)).Observe(d.Seconds())
}

// Handle is an events.Handler counting every bus event and import outcomes.
func (m *Metrics) Handle(_ context.Context, e events.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	switch e.Kind {
	case events.KindRecordCreated:
		m.imports.WithLabelValues("created", "").Inc()
	case events.KindRecordUpdated:
		m.imports.WithLabelValues("updated", "").Inc()
	case events.KindImportFailed:
		code := ""
		if p, ok := e.Payload.(events.ImportFailedPayload); ok {
			code = p.Code
		}
		m.imports.WithLabelValues("failed", code).Inc()
	}
}
