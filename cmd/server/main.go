package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/api"
	"github.com/Harshitk-cp/twinledger/internal/buildconfig"
	"github.com/Harshitk-cp/twinledger/internal/config"
	"github.com/Harshitk-cp/twinledger/internal/events"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := config.Load(); err != nil {
		// Logger config depends on the environment, so this one goes to a default logger.
		zap.Must(zap.NewProduction()).Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	backend, err := api.OpenBackend(ctx, logger)
	if err != nil {
		logger.Fatal("failed to open storage backend", zap.Error(err))
	}
	defer backend.Close()

	clients := api.NewClients(logger)
	if url := config.NATSURL(); url != "" {
		pub, err := events.Connect(url, config.NATSSubjectPrefix(), logger)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer pub.Close()
		clients.Events = pub
	}

	svcs, err := api.NewServices(backend, clients, metrics.New(), logger)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	app := api.NewApp(backend, svcs, logger)

	// Start background services
	svcs.Runner.Start()
	svcs.Sweeper.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("backend", backend.Name),
			zap.String("version", buildconfig.Version()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop background services
	svcs.Sweeper.Stop()
	svcs.Runner.Stop()

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		return zap.Must(zap.NewDevelopment())
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zap.Must(cfg.Build())
}
