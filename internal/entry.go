// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
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

	"github.com/starford/dispatchd/internal/actions"
	"github.com/starford/dispatchd/internal/api"
	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/fields"
	"github.com/starford/dispatchd/internal/mcpserver"
	"github.com/starford/dispatchd/internal/messaging"
	"github.com/starford/dispatchd/internal/poller"
	"github.com/starford/dispatchd/internal/recordservice"
	"github.com/starford/dispatchd/internal/sse"
	"github.com/starford/dispatchd/internal/storage"
)

// runtime holds the wired components shared by every command.
type runtime struct {
	cfg        *Config
	logger     *slog.Logger
	db         *storage.SQLite
	actions    *actions.Actions
	reconciler *engine.Reconciler
	service    *recordservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout, output: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup opens the store and wires translator, messenger, actions and reconciler.
func setup(app *application) (*runtime, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Duration("poll_interval", cfg.Poll.Interval),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := storage.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	tr, err := fields.NewTranslator(cfg.Tables.Schemas())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init field translator: %w", err)
	}
	store := fields.NewStore(db, tr)

	messenger := app.messenger
	if messenger == nil {
		messenger = messaging.NewSlack(cfg.Messaging.Token, cfg.Messaging.APIURL)
	}

	acts := actions.New(store, messenger, cfg.Messaging.Channels(), logger)
	processor := engine.NewProcessor(store, logger,
		engine.WithMaxConcurrency(cfg.Poll.MaxConcurrency),
		engine.WithRecordTimeout(cfg.Poll.RecordTimeout))
	reconciler := engine.NewReconciler(store, processor, logger, acts.Tables(cfg.Poll.IncludeNullStatus)...)

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		actions:    acts,
		reconciler: reconciler,
		service:    recordservice.NewService(store, reconciler),
	}, nil
}

// Run starts the pollers and the operator HTTP server.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	cfg, logger := rt.cfg, rt.logger

	// SSE broker fed by every cycle report.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	rt.reconciler.Observe(broker.PublishReport)

	apiRouter := api.NewRouter(rt.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
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
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	polls := poller.New(rt.reconciler, cfg.Poll.Interval, logger, rt.reconciler.Tables()...)

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start pollers.
	g.Go(func() error {
		return polls.Run(gCtx)
	})

	// Nudge pollers early when the store file changes.
	if cfg.Poll.WatchStore {
		g.Go(func() error {
			if err := poller.WatchStore(gCtx, cfg.SQLite.Path, poller.DefaultDebounce, logger, polls.Nudge); err != nil {
				logger.Warn("store watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		defer signal.Stop(quit)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group's context so the pollers stop with the server.
var errShutdown = errors.New("shutdown")

// PollOnce runs a single cycle of one table and prints the report as JSON.
// With dryRun it prints the pending records instead and changes nothing.
func PollOnce(ctx context.Context, table string, dryRun bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	enc := json.NewEncoder(app.output)
	enc.SetIndent("", "  ")

	if dryRun {
		pending, err := rt.service.PendingChanges(ctx, table)
		if err != nil {
			return err
		}
		return enc.Encode(pending)
	}

	report, err := rt.reconciler.Cycle(ctx, table)
	if err != nil {
		return err
	}
	if err := enc.Encode(api.NewCycleResponse(report)); err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d of %d records failed", report.Failed(), report.Detected)
	}
	return nil
}

// ServeMCP exposes the operator tools over MCP stdio. Logs go to stderr
// unless overridden, since stdout carries the protocol.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	srv := mcpserver.New(rt.service, rt.actions.Lifecycle())
	rt.logger.Info("MCP server listening on stdio")
	return srv.ServeStdio()
}
