// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/aclarai/vaultsync/internal/api"
	"github.com/aclarai/vaultsync/internal/graphstore"
	"github.com/aclarai/vaultsync/internal/importer"
	"github.com/aclarai/vaultsync/internal/mcpserver"
	"github.com/aclarai/vaultsync/internal/reconcile"
	"github.com/aclarai/vaultsync/internal/scanner"
	"github.com/aclarai/vaultsync/internal/sse"
	"github.com/aclarai/vaultsync/internal/syncservice"
	"github.com/aclarai/vaultsync/internal/vault"
	"github.com/aclarai/vaultsync/internal/watcher"
	"github.com/aclarai/vaultsync/internal/writeback"
	"github.com/aclarai/vaultsync/pkg/retry"
)

// deps holds the wired components shared by every run mode.
type deps struct {
	cfg      *Config
	logger   *slog.Logger
	vault    *vault.FS
	graph    *graphstore.Store
	pipeline *reconcile.Pipeline
	scanner  *scanner.Scanner
	service  *syncservice.Service
}

func (d *deps) close() {
	if d.graph != nil {
		if err := d.graph.Close(); err != nil {
			d.logger.Warn("graph store close failed", slog.String("error", err.Error()))
		}
	}
}

// build wires the vault, graph store, pipeline, and service from config.
// notifier may be nil for run modes without an event surface.
func build(app *application, notifier reconcile.Notifier) (*deps, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	v, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	g, err := graphstore.Open(cfg.Graph.Path)
	if err != nil {
		return nil, fmt.Errorf("init graph store: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Sync.MaxRetries

	pipeline := reconcile.New(v, g, logger, reconcile.Options{
		Retry:     retryCfg,
		OpTimeout: cfg.Sync.OpTimeout,
		Workers:   cfg.Sync.Workers,
		Notifier:  notifier,
	})
	sc := scanner.New(v, g, pipeline, logger, cfg.Sync.ScanInterval)
	svc := syncservice.New(g, sc, pipeline, writeback.New(v))

	return &deps{
		cfg:      cfg,
		logger:   logger,
		vault:    v,
		graph:    g,
		pipeline: pipeline,
		scanner:  sc,
		service:  svc,
	}, nil
}

func applyOptions(opts []Option) *application {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run starts the long-running daemon: file watcher, periodic scanner, and
// the HTTP API with the SSE event stream.
func Run(ctx context.Context, opts ...Option) error {
	broker := sse.NewBroker()
	defer broker.Close()

	d, err := build(applyOptions(opts), broker)
	if err != nil {
		return err
	}
	defer d.close()

	cfg, logger := d.cfg, d.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("graph_path", cfg.Graph.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	w := watcher.New(d.vault, d.graph, d.pipeline, cfg.Vault.Path, logger, watcher.Options{
		Debounce: cfg.Sync.DebounceWindow,
		MaxBatch: cfg.Sync.MaxBatch,
	})

	apiRouter := api.NewRouter(d.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the file watcher.
	g.Go(func() error {
		return w.Run(gCtx)
	})

	// Start the periodic consistency scan.
	g.Go(func() error {
		return d.scanner.Run(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunSync executes one full vault pass and returns its summary.
func RunSync(ctx context.Context, opts ...Option) (reconcile.Summary, error) {
	d, err := build(applyOptions(opts), nil)
	if err != nil {
		return reconcile.Summary{}, err
	}
	defer d.close()

	return d.service.RunPass(ctx)
}

// RunImport registers untracked vault files as file-level blocks and
// returns the import summary.
func RunImport(ctx context.Context, opts ...Option) (importer.Summary, error) {
	d, err := build(applyOptions(opts), nil)
	if err != nil {
		return importer.Summary{}, err
	}
	defer d.close()

	im := importer.New(d.vault, d.graph, d.logger)
	return im.Run(ctx)
}

// RunMCP serves the MCP tool surface over stdio until the client hangs up.
func RunMCP(_ context.Context, opts ...Option) error {
	d, err := build(applyOptions(opts), nil)
	if err != nil {
		return err
	}
	defer d.close()

	return mcpserver.New(d.service).ServeStdio()
}
