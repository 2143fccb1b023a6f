package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/scitags/ntstat-go/backends/api"
	"github.com/scitags/ntstat-go/backends/firefly"
	"github.com/scitags/ntstat-go/backends/prometheus"
	"github.com/scitags/ntstat-go/session"
)

// A Backend consumes the flows a session reports.
type Backend interface {
	session.Listener
	fmt.Stringer

	Init() error
	Cleanup() error
}

// statsExporter is implemented by backends exposing the session's accounting.
type statsExporter interface {
	ExportSessionStats(stats func() session.Stats) error
}

func createBackends(c *Config) ([]Backend, error) {
	backends := []Backend{}

	if c.Backends != nil {
		if c.Backends.Prometheus != nil {
			b, err := prometheus.NewPrometheusBackend(c.Backends.Prometheus)
			if err != nil {
				return nil, fmt.Errorf("error initialising the prometheus backend: %w", err)
			}
			backends = append(backends, b)
		}

		if c.Backends.Firefly != nil {
			b, err := firefly.NewFireflyBackend(c.Backends.Firefly)
			if err != nil {
				return nil, fmt.Errorf("error initialising the firefly backend: %w", err)
			}
			backends = append(backends, b)
		}

		if c.Backends.Api != nil {
			backends = append(backends, api.NewAPIBackend(c.Backends.Api))
		}
	}

	return backends, nil
}

func initBackends(backends []Backend, sess *session.Session) error {
	for _, backend := range backends {
		if exporter, ok := backend.(statsExporter); ok {
			if err := exporter.ExportSessionStats(sess.Stats); err != nil {
				return fmt.Errorf("error exporting session stats through %s: %w", backend, err)
			}
		}

		if err := backend.Init(); err != nil {
			return fmt.Errorf("error setting up backend %s: %w", backend, err)
		}
	}
	return nil
}

func cleanupBackends(backends []Backend) error {
	errs := []error{}
	for _, backend := range backends {
		if err := backend.Cleanup(); err != nil {
			slog.Error("error cleaning up backend", "backend", backend, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// listeners fans the session's events out to the printer and every backend.
func listeners(p *printer, backends []Backend) session.Listener {
	ls := session.Listeners{}
	if p != nil {
		ls = append(ls, p)
	}
	for _, b := range backends {
		ls = append(ls, b)
	}
	return ls
}
