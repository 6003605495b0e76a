// ABOUTME: Gateway wiring the HTTP server, routes, middleware, and component lifecycle
// ABOUTME: Owns startup, graceful shutdown, and the access log

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strandworks/strand-gateway/internal/auth"
	"github.com/strandworks/strand-gateway/internal/broker"
	"github.com/strandworks/strand-gateway/internal/config"
	"github.com/strandworks/strand-gateway/internal/modelmap"
	"github.com/strandworks/strand-gateway/internal/orchestrator"
	"github.com/strandworks/strand-gateway/internal/store"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight requests and
// background tasks.
const shutdownTimeout = 10 * time.Second

// Gateway assembles the streaming gateway server.
type Gateway struct {
	cfg          *config.Config
	store        store.Store
	registry     *modelmap.Registry
	broker       *broker.Broker
	janitor      *broker.Janitor
	orchestrator *orchestrator.Service
	guard        *StreamGuard
	httpServer   *http.Server
	logger       *slog.Logger

	heartbeatInterval time.Duration
}

// New builds a gateway and all its components from configuration. The caller
// owns the store and must close it after Shutdown.
func New(cfg *config.Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	endpoints := make(map[string]string, len(cfg.Providers))
	for dialectName, pc := range cfg.Providers {
		endpoints[dialectName] = pc.BaseURL
	}

	registry := modelmap.NewRegistry(st, cfg.Routing.DeniedModels, endpoints, logger)
	if err := registry.Invalidate(context.Background()); err != nil {
		return nil, fmt.Errorf("loading initial mapping snapshot: %w", err)
	}

	b := broker.New(cfg.Stream.QueueCapacity, logger)
	janitor := broker.NewJanitor(b, cfg.Stream.JanitorInterval, cfg.Stream.Retention, logger)

	svc := orchestrator.New(orchestrator.Config{
		Registry:       registry,
		Broker:         b,
		SplitThreshold: cfg.Stream.SplitThreshold,
		Logger:         logger,
	})

	g := &Gateway{
		cfg:               cfg,
		store:             st,
		registry:          registry,
		broker:            b,
		janitor:           janitor,
		orchestrator:      svc,
		guard:             NewStreamGuard(logger),
		logger:            logger.With("component", "gateway"),
		heartbeatInterval: cfg.Stream.HeartbeatInterval,
	}

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: g.routes(),
	}
	return g, nil
}

// routes builds the HTTP mux. Everything under /api requires the admission
// middleware's identity headers; /healthz does not.
func (g *Gateway) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/messages", g.handleCreateMessage)
	api.HandleFunc("/api/messages/", g.handleStreamEvents)
	api.HandleFunc("/api/mappings", g.handleMappings)
	api.HandleFunc("/api/mappings/", g.handleDeleteMapping)
	api.HandleFunc("/api/credentials/", g.handleUpsertCredential)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.Handle("/api/", auth.HTTPMiddleware(api))

	return g.accessLog(mux)
}

// accessLog logs one line per request in the structured format.
func (g *Gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"elapsed", time.Since(start).String())
	})
}

// Start runs the HTTP server and the retention janitor until ctx is
// cancelled, then shuts everything down gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	g.janitor.Start(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		return g.shutdown()
	})
	return group.Wait()
}

// shutdown drains the HTTP server, stops the orchestrator's detached tasks,
// and releases broker channels.
func (g *Gateway) shutdown() error {
	g.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := g.orchestrator.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("orchestrator shutdown: %w", err)
	}
	g.janitor.Stop()
	g.broker.Shutdown()

	g.logger.Info("shutdown complete")
	return firstErr
}
