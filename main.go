package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/chasecyang/shotrio-sub004/internal/adapter/llm"
	"github.com/chasecyang/shotrio-sub004/internal/config"
	"github.com/chasecyang/shotrio-sub004/internal/cost"
	"github.com/chasecyang/shotrio-sub004/internal/dispatch"
	"github.com/chasecyang/shotrio-sub004/internal/logging"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
	"github.com/chasecyang/shotrio-sub004/internal/policy"
	"github.com/chasecyang/shotrio-sub004/internal/repository"
	"github.com/chasecyang/shotrio-sub004/internal/service"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
	transport "github.com/chasecyang/shotrio-sub004/internal/transport/http"
	"github.com/chasecyang/shotrio-sub004/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shotrio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("starting orchestrator",
		"http_port", cfg.Server.HTTPPort,
		"internal_port", cfg.Server.InternalPort,
		"database_driver", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"llm_api_key", logging.RedactValue(cfg.LLM.APIKey),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := repository.NewSQLiteStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	// Operations
	catalog := tools.DefaultCatalog()
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, store)
	if missing := registry.Missing(catalog); len(missing) > 0 {
		return fmt.Errorf("operations without handlers: %s", strings.Join(missing, ", "))
	}

	// Initialize LLM client
	client, err := llm.NewStreamClient(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}

	// Initialize policy engine
	engine, err := policy.LoadEngine(ctx, cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	lp := loop.New(loop.Deps{
		Client:     client,
		Catalog:    catalog,
		Validator:  validation.New(),
		Estimator:  cost.NewEstimator(cfg.Cost.Currency, cfg.Cost.Rates, logger),
		Dispatcher: dispatch.New(catalog, registry, cfg.Tools.Timeout, logger),
		Gate:       engine,
		Logger:     logger,
	}, loop.Options{
		Model:                cfg.LLM.Model,
		SystemPrompt:         cfg.LLM.SystemPrompt,
		MaxIterations:        cfg.Loop.MaxIterations,
		MaxValidationRetries: cfg.Loop.MaxValidationRetries,
		CheckpointInterval:   cfg.Loop.CheckpointInterval,
		MaxActionCredits:     cfg.Policy.MaxActionCredits,
	})

	// Initialize service
	svc := service.New(store, lp, catalog, cfg, logger)

	externalServer := transport.NewExternalServer(svc, logger)
	internalServer := transport.NewInternalServer(svc, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(externalServer, cfg.Server.HTTPPort)
	})
	g.Go(func() error {
		return serve(internalServer, cfg.Server.InternalPort)
	})
	g.Go(func() error {
		svc.RunPendingActionMonitor(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down orchestrator")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := externalServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown external server gracefully", "error", err)
		}
		if err := internalServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown internal server gracefully", "error", err)
		}
		return nil
	})

	logger.Info("orchestrator started")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("orchestrator stopped")
	return nil
}

func serve(e *echo.Echo, port int) error {
	addr := fmt.Sprintf(":%d", port)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s: %w", addr, err)
	}
	return nil
}
