package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	corecfg "github.com/mediant-lab/mediant/internal/core/config"
	"github.com/mediant-lab/mediant/internal/core/storage/postgres"
	"github.com/mediant-lab/mediant/internal/ingestion"
	"github.com/mediant-lab/mediant/internal/mediation"
	"github.com/mediant-lab/mediant/internal/migrations"
	"github.com/mediant-lab/mediant/internal/server"
	"github.com/mediant-lab/mediant/internal/sessionquery"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "mediant.yaml", "Path to configuration file")
	pflag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	sweepInterval, err := time.ParseDuration(cfg.Sweep.EffectiveInterval())
	if err != nil {
		slog.Error("Invalid sweep interval", "value", cfg.Sweep.EffectiveInterval(), "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize the decision engine and the staleness sweep
	engine := mediation.NewEngine(dbAdapter, dbAdapter)
	sweeper := mediation.NewSweeper(dbAdapter, dbAdapter)
	scheduler := mediation.NewScheduler(sweepInterval, sweeper)

	slog.Info("Staleness sweep scheduler initialized",
		"interval", sweepInterval,
		"enabled", cfg.Sweep.Enabled,
	)

	// 4. Initialize Ingestion
	ingestionSvc := ingestion.NewService(engine, cfg.Server.MaxBodySizeMB)

	// 5. Initialize Session Query (read-only API)
	querySvc := sessionquery.NewService(dbAdapter)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	querySvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Sweep.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Sweep scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Staleness sweep disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
