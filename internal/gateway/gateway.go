// ABOUTME: Gateway orchestrator wiring store, bus, dispatcher, and sessions
// ABOUTME: Manages the HTTP server lifecycle and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/systempromptio/mcp-gateway/internal/bus"
	"github.com/systempromptio/mcp-gateway/internal/config"
	"github.com/systempromptio/mcp-gateway/internal/correlate"
	"github.com/systempromptio/mcp-gateway/internal/dispatch"
	"github.com/systempromptio/mcp-gateway/internal/engine"
	"github.com/systempromptio/mcp-gateway/internal/session"
	"github.com/systempromptio/mcp-gateway/internal/store"
)

// Gateway orchestrates the mcp-gateway server components. It owns the store,
// message bus, correlator, dispatcher, session registry, and HTTP server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	bus        bus.Bus
	correlator *correlate.Correlator
	registry   *session.Registry
	monitor    *session.Monitor
	transport  *Transport
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the SQLite store from config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initBus creates the message bus backend from config.
func initBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Backend {
	case "", "memory":
		return bus.NewMemoryBus(), nil
	case "redis":
		return bus.NewRedisBus(bus.RedisConfig{
			Addr:      cfg.Bus.RedisAddr,
			KeyPrefix: cfg.Bus.ChannelPrefix,
		}), nil
	default:
		return nil, fmt.Errorf("unknown bus backend: %q", cfg.Bus.Backend)
	}
}

// New creates a Gateway with all components wired together.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	b, err := initBus(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	correlator := correlate.New(correlate.Config{
		Logger: logger.With("component", "correlate"),
	})

	dispatcher := dispatch.New(dispatch.Config{
		Bus:             b,
		Correlator:      correlator,
		ToolTimeout:     cfg.Execute.ToolTimeout,
		ResourceTimeout: cfg.Execute.ResourceTimeout,
		Logger:          logger,
	})

	registry := session.NewRegistry(session.RegistryConfig{
		Logger: logger,
		Factory: func(sessionID, contextID string) *engine.Engine {
			return engine.New(engine.Config{
				SessionID:  sessionID,
				ContextID:  contextID,
				Store:      s,
				Dispatcher: dispatcher,
				Logger:     logger,
			})
		},
	})

	monitor := session.NewMonitor(session.MonitorConfig{
		Registry:    registry,
		IdleTimeout: cfg.Sessions.IdleTimeout,
		Interval:    cfg.Sessions.SweepInterval,
		Logger:      logger,
	})

	gw := &Gateway{
		config:     cfg,
		store:      s,
		bus:        b,
		correlator: correlator,
		registry:   registry,
		monitor:    monitor,
		logger:     logger.With("component", "gateway"),
	}

	gw.transport = NewTransport(TransportConfig{
		Registry:       registry,
		Store:          s,
		DefaultContext: cfg.Contexts.Default,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.transport.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler exposes the HTTP handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.monitor.Start()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown shuts down with a fresh context since the run context is
// already canceled by the time we get here.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, evicts all sessions, and releases every
// component in dependency order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.monitor.Stop()
	g.registry.ShutdownAll()
	g.correlator.Close()

	errs = appendCloseError(errs, "bus close", g.bus.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one capability context exists.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	contexts, err := g.store.ListContexts(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if len(contexts) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no contexts configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d contexts)", len(contexts))
}
