package main

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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/tellerbot/internal/api"
	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/convlog"
	"github.com/ashureev/tellerbot/internal/dialogue"
	"github.com/ashureev/tellerbot/internal/flags"
	"github.com/ashureev/tellerbot/internal/health"
	"github.com/ashureev/tellerbot/internal/identity"
	"github.com/ashureev/tellerbot/internal/middleware"
	"github.com/ashureev/tellerbot/internal/store"
	"github.com/ashureev/tellerbot/internal/widget"
	"github.com/ashureev/tellerbot/web"
)

func newServeCmd() *cobra.Command {
	var persona string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the widget server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if persona != "" {
				cfg.Persona = persona
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, slog.Default())
		},
	}

	cmd.Flags().StringVar(&persona, "persona", "", "default persona id (overrides PERSONA)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "persona", cfg.Persona)

	catalog, err := config.LoadCatalog(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona catalog: %w", err)
	}
	if _, ok := catalog.Persona(cfg.Persona); !ok {
		return fmt.Errorf("unknown persona %q", cfg.Persona)
	}

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close session store", "error", closeErr)
		}
	}()

	extractor, err := flags.NewExtractor(catalog.Flags, logger)
	if err != nil {
		return fmt.Errorf("compile flag rules: %w", err)
	}

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			logger.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	backend := dialogue.NewClient(cfg.Backend, logger)
	healthServer := health.NewServer(logger)
	backend.OnStatus(healthServer.SetBackendOnline)

	// Initialize services.
	sm := widget.NewManager()

	// Initialize handlers.
	wsHandler, err := widget.NewHandler(widget.Deps{
		Store:     repo,
		Backend:   backend,
		Catalog:   catalog,
		Persona:   cfg.Persona,
		Extractor: extractor,
		Speech:    cfg.Speech,
		ConvLog:   conversationLogger,
		Logger:    logger,
	}, sm, cfg.FrontendURL, cfg.IsDevelopment())
	if err != nil {
		return fmt.Errorf("initialize widget handler: %w", err)
	}
	baseHandler := api.NewHandler(repo, sm, catalog, cfg.Persona)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, backend)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware())

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/widget", wsHandler.ServeHTTP)

	// Embedded relay client and demo page.
	r.Handle("/*", web.StaticHandler())

	// Note: the widget socket is long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sweeper := store.NewSweeper(repo, cfg.SessionTTL, sm.IsActive)
	if err := sweeper.Start(ctx, cfg.SweepSchedule); err != nil {
		return err
	}

	errCh := make(chan error, 2)

	if cfg.GRPCHealthPort != "" {
		go func() {
			if err := healthServer.ListenAndServe(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				errCh <- err
			}
		}()
	}

	// Start server.
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server forced to shutdown: %w", err))
	}
	// WebSocket handlers are hijacked and outlive srv.Shutdown; stop them
	// before the deferred store and log closes run.
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("Server stopped successfully")
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
