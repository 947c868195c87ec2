package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/config"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/crm"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/dispatch"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/logging"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/processor"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/server"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging)
	logger.Info("Starting attendance bridge...")

	window, err := cfg.Window()
	if err != nil {
		logger.Fatalf("Invalid shift window: %v", err)
	}

	database, err := db.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	client := crm.NewClient(cfg.CRM)
	proc := processor.New(database, window, cfg.Processor.MaxConcurrency, logger)
	dispatcher := dispatch.New(database, client, cfg.CRM, logger)

	// The device wire protocol lives outside this service: punches arrive
	// through POST /api/punches from a device agent, so no pull source is
	// wired here.
	srv := server.New(database, nil, proc, dispatcher, client, window, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		s := <-signals
		logger.Infof("Received signal: %v", s)
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}
	go func() {
		logger.Infof("Admin API listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server error: %v", err)
			cancel()
		}
	}()

	// Process and sync run on their own cadences; the ticker loops stand in
	// for the external scheduler. Each tick re-reads nothing ambient: the
	// window and CRM settings were validated at startup and passed by value.
	go runEvery(ctx, cfg.Processor.Interval(), "process", logger, func(ctx context.Context) error {
		from := time.Now().AddDate(0, 0, -cfg.Processor.LookbackDays)
		_, err := proc.ProcessRange(ctx, from, time.Time{}, nil)
		return err
	})
	go runEvery(ctx, cfg.Sync.Interval(), "sync", logger, func(ctx context.Context) error {
		_, err := dispatcher.Dispatch(ctx, dispatch.Options{})
		return err
	})
	go runEvery(ctx, 24*time.Hour, "cleanup", logger, func(ctx context.Context) error {
		cutoff := time.Now().AddDate(0, 0, -cfg.Retention.RawPunchDays)
		deleted, err := database.DeletePunchesBefore(ctx, cutoff)
		if err == nil && deleted > 0 {
			logger.WithField("deleted", deleted).Info("cleanup: removed old raw punches")
		}
		return err
	})

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error shutting down HTTP server: %v", err)
	}

	database.Close()
	logger.Info("Application shutdown complete")
}

// runEvery invokes fn on a fixed cadence until ctx is cancelled. A run
// already in flight finishes before shutdown proceeds past its tick.
func runEvery(ctx context.Context, interval time.Duration, name string, logger *logrus.Logger, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Errorf("%s run failed", name)
			}
		}
	}
}
