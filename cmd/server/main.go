package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"

	"github.com/sora960/paragas-agrikonek-sub003/internal/client"
	"github.com/sora960/paragas-agrikonek-sub003/internal/handler"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/config"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/database"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
	"github.com/sora960/paragas-agrikonek-sub003/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Budget Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	workflowRepo := repository.NewWorkflowRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	batchRepo := repository.NewBatchRepository(db)

	// Optional NATS notification publisher
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	notifier := client.NewNotificationPublisher(nc, log.Logger)
	rolesClient := client.NewRolesClient(cfg.Roles.BaseURL, cfg.Roles.Timeout)

	// Initialize services
	policies := repository.DefaultPolicies()
	approvalService := service.NewApprovalService(workflowRepo, auditRepo, policies, notifier, log)
	batchService := service.NewBatchService(batchRepo, ledgerRepo, notifier, log)
	auditService := service.NewAuditService(auditRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, batchService, auditService, rolesClient, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	httpHandler.Routes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
