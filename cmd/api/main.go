package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"koffers/internal/shared/config"
	"koffers/internal/shared/logger"
	"koffers/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Environment, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				log.Error("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	deps, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Background work
	deps.WorkerPool.Start()
	deps.ReceiptListener.Start(ctx)
	if deps.Scheduler != nil {
		deps.Scheduler.Start()
	} else {
		log.Info("scheduler is disabled")
	}

	handler := SetupRoutes(deps, cfg, log)
	srv, redirectSrv, errCh := StartServers(NewServerConfigFromConfig(handler, cfg), log)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		log.Error("server failed", zap.Error(serveErr))
	}

	GracefulShutdown(srv, redirectSrv, deps, shutdownTimeout, log)
	return serveErr
}
