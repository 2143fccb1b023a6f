// Package api serves the live flow table over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/scitags/ntstat-go/session"
	"github.com/scitags/ntstat-go/types"
)

var logger *slog.Logger

type APIBackend struct {
	Config

	server *echo.Echo

	mu    sync.RWMutex
	flows map[types.FlowKey]types.Stream

	stats func() session.Stats
}

func NewAPIBackend(c *Config) *APIBackend {
	logger = types.NewLogger(c.Log, "api")

	b := &APIBackend{
		Config: *c,
		server: echo.New(),
		flows:  map[types.FlowKey]types.Stream{},
	}

	// Prevent the banner from showing up in the log
	b.server.HideBanner = true
	b.server.HidePort = true

	// Extend the context so that handlers get a handle on the backend.
	b.server.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&extendedContext{c, b})
		}
	})

	b.server.GET("/", handleRoot)
	b.server.GET("/flows", handleFlows)
	b.server.GET("/processes", handleProcesses)
	b.server.GET("/stats", handleStats)

	return b
}

func (b *APIBackend) String() string {
	return "API"
}

// Handler exposes the router so it can be mounted elsewhere.
func (b *APIBackend) Handler() http.Handler {
	return b.server
}

// ExportSessionStats makes GET /stats report what stats returns.
func (b *APIBackend) ExportSessionStats(stats func() session.Stats) error {
	b.stats = stats
	return nil
}

func (b *APIBackend) Init() error {
	logger.Debug("initialising the api backend", "addr", b.BindAddress, "port", b.BindPort)

	go func() {
		if err := b.server.Start(fmt.Sprintf("%s:%d", b.BindAddress, b.BindPort)); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("couldn't start the API server", "err", err)
		}
	}()

	return nil
}

func (b *APIBackend) Cleanup() error {
	logger.Debug("cleaning up the api backend")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down the API server: %w", err)
	}
	return nil
}

func (b *APIBackend) OnStreamAdded(s types.Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flows[s.Key] = s
}

func (b *APIBackend) OnStreamStatsUpdate(s types.Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flows[s.Key] = s
}

func (b *APIBackend) OnStreamRemoved(s types.Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.flows, s.Key)
}

// snapshot returns the live flows ordered by key.
func (b *APIBackend) snapshot() []types.Stream {
	b.mu.RLock()
	flows := make([]types.Stream, 0, len(b.flows))
	for _, s := range b.flows {
		flows = append(flows, s)
	}
	b.mu.RUnlock()

	slices.SortFunc(flows, func(x, y types.Stream) int { return x.Key.Compare(y.Key) })

	return flows
}

func (b *APIBackend) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.flows)
}
