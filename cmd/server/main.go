// Package main is the entry point of the benefit resolver API.
//
// The server exposes the resolution pipeline over HTTP and refreshes the
// course catalog on a fixed interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tuition-hub/benefit-resolver/config"
	"github.com/tuition-hub/benefit-resolver/internal/di"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/scheduler"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/tuition-hub/benefit-resolver/internal/interface/http"
	"github.com/tuition-hub/benefit-resolver/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting benefit resolver",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"batch_size", cfg.Pipeline.BatchSize,
		"period_match", string(cfg.Pipeline.MatchMode),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DEPENDENCIES
	// ─────────────────────────────────────────────────────────────────────────
	container, err := di.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections...")
		container.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(log)
	if interval := cfg.Pipeline.CatalogSyncInterval; interval > 0 {
		job := jobs.NewCatalogSyncJob(container.SyncCatalog, 0, log)
		if err := sched.Register(job, scheduler.Every(interval)); err != nil {
			return fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
	} else {
		log.Info("periodic catalog sync disabled")
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Warn("scheduler stop failed", "error", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	serverCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	serverCfg.APIKeys = cfg.HTTP.APIKeys
	serverCfg.Version = cfg.App.Version

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		ResolveCandidate: container.ResolveCandidate,
		ResolveBatch:     container.ResolveBatch,
		ResolveFamily:    container.ResolveFamily,
		CheckConflicts:   container.CheckConflicts,
		CommitBenefits:   container.CommitBenefits,
		SyncCatalog:      container.SyncCatalog,
		Benefits:         container.Benefits,
		Jobs:             sched,
		HealthChecker:    container.HealthChecker(),
		Logger:           log,
	})
	serveErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok && err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger picks JSON in production or when LOG_FORMAT=json.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}
	opts.Format = logger.ParseFormat(cfg.Observability.LogFormat)
	if cfg.IsProduction() {
		opts.Format = logger.FormatJSON
	}
	opts.Attrs = []slog.Attr{slog.String("service", cfg.App.Name)}
	return logger.Setup(opts)
}
