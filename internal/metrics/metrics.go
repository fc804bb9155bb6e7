// Package metrics exposes bridge counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nspanel"

// Metrics holds the bridge collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	Decoded   *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Published *prometheus.CounterVec
	Deduped   prometheus.Counter
	ItemWrite *prometheus.CounterVec

	panels *panelCollector
}

// New creates the collectors on a private registry. onlinePanels is polled
// on every scrape.
func New(onlinePanels func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_decoded_total",
			Help:      "Inbound events decoded, by event kind.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_published_total",
			Help:      "Outbound commands published, by detail topic.",
		}, []string{"detail"}),
		Deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_deduplicated_total",
			Help:      "Rendered commands suppressed because the panel already shows them.",
		}),
		ItemWrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_writes_total",
			Help:      "Item writes issued by panel interaction, by action.",
		}, []string{"action"}),
		panels: &panelCollector{
			desc:   prometheus.NewDesc(namespace+"_panels_online", "Panels currently online.", nil, nil),
			online: onlinePanels,
		},
	}
	m.registry.MustRegister(m.Decoded, m.Dropped, m.Published, m.Deduped, m.ItemWrite, m.panels)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncDecoded(kind string) {
	if m != nil {
		m.Decoded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncPublished(detail string) {
	if m != nil {
		m.Published.WithLabelValues(detail).Inc()
	}
}

func (m *Metrics) AddDeduped(n int) {
	if m != nil && n > 0 {
		m.Deduped.Add(float64(n))
	}
}

func (m *Metrics) IncItemWrite(action string) {
	if m != nil {
		m.ItemWrite.WithLabelValues(action).Inc()
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type panelCollector struct {
	desc   *prometheus.Desc
	online func() int
}

func (c *panelCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *panelCollector) Collect(ch chan<- prometheus.Metric) {
	n := 0
	if c.online != nil {
		n = c.online()
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n))
}
