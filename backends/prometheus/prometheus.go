package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scitags/ntstat-go/session"
	"github.com/scitags/ntstat-go/types"
)

var logger *slog.Logger

// PrometheusBackend exports a set of gauges per flow for as long as the
// flow is alive.
type PrometheusBackend struct {
	Config

	m      *metrics
	reg    *prometheus.Registry
	server *http.Server
}

func (b *PrometheusBackend) String() string {
	return "Prometheus"
}

func NewPrometheusBackend(c *Config) (*PrometheusBackend, error) {
	logger = types.NewLogger(c.Log, "prometheus")

	logger.Debug("initialising the prometheus backend")

	b := PrometheusBackend{Config: *c}

	// Create a non-global registry.
	b.reg = prometheus.NewRegistry()

	b.m = newMetrics()
	if err := b.m.register(b.reg); err != nil {
		return nil, fmt.Errorf("error registering the metrics: %v", err)
	}

	b.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", b.BindAddress, b.Port),
		Handler: b.Handler(),
	}

	return &b, nil
}

// Handler serves the metrics over /metrics.
func (b *PrometheusBackend) Handler() http.Handler {
	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg}))
	return handler
}

// ExportSessionStats exports the counters stats returns on every scrape.
func (b *PrometheusBackend) ExportSessionStats(stats func() session.Stats) error {
	return newSessionMetrics(stats).register(b.reg)
}

func (b *PrometheusBackend) Init() error {
	logger.Debug("running the prometheus backend", "addr", b.server.Addr)

	go func() {
		if err := b.server.ListenAndServe(); err != nil {
			logger.Info("stopped listening", "err", err)
		}
	}()

	return nil
}

func (b *PrometheusBackend) Cleanup() error {
	logger.Debug("cleaning up the prometheus backend")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (b *PrometheusBackend) OnStreamAdded(s types.Stream) {
	logger.Debug("exporting flow", "stream", s)
	b.m.update(b.m.newLabels(s), s)
}

func (b *PrometheusBackend) OnStreamStatsUpdate(s types.Stream) {
	b.m.update(b.m.newLabels(s), s)
}

func (b *PrometheusBackend) OnStreamRemoved(s types.Stream) {
	logger.Debug("removing metrics", "stream", s)
	b.m.delete(b.m.newLabels(s))
}
