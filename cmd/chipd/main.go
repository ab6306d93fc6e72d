// Command chipd runs the chiptrace server: the HTTP API, the execution
// window sweeper, the scan-device reaper, and the ledger backup scheduler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/config"
	"github.com/tagwerk/chiptrace/internal/events"
	"github.com/tagwerk/chiptrace/internal/execution"
	"github.com/tagwerk/chiptrace/internal/fraud"
	"github.com/tagwerk/chiptrace/internal/ledger"
	"github.com/tagwerk/chiptrace/internal/server"
	"github.com/tagwerk/chiptrace/internal/store/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "chipd",
	Short: "Run the chiptrace server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to Postgres.
	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	// Create event publisher.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			store.Close()
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = &events.NoopPublisher{}
		logger.Info("events disabled (CHIPTRACE_NATS_URL not set)")
	}

	// Load anti-fraud bounds.
	fraudCfg, err := fraud.LoadConfig(cfg.FraudConfig)
	if err != nil {
		publisher.Close()
		store.Close()
		return err
	}
	if cfg.FraudConfig != "" {
		logger.Info("fraud bounds loaded", "path", cfg.FraudConfig)
	}

	// Create server components.
	chipsServer := server.NewChipsServer(store, publisher, fraud.New(fraudCfg))

	// Start HTTP server.
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: chipsServer.NewHTTPHandler(cfg.AuthToken),
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	// Start the window sweeper so stale open windows cannot block their
	// schedulables forever.
	var sweeper *execution.Sweeper
	if cfg.WindowTTL > 0 {
		sweeper = execution.NewSweeper(store, cfg.WindowTTL, time.Minute, logger)
		sweeper.Start()
		logger.Info("window sweeper started", "ttl", cfg.WindowTTL)
	}

	// Start the scan-device reaper.
	chipsServer.Presence.StartReaper(nil)

	// Start backup scheduler if any destinations are configured.
	var scheduler *ledger.Scheduler
	if cfg.BackupInterval > 0 {
		var dests []ledger.Destination

		if cfg.BackupS3Bucket != "" {
			s3Dest, err := ledger.NewS3Destination(
				context.Background(),
				cfg.BackupS3Bucket,
				cfg.BackupS3Key,
				cfg.BackupS3Region,
				cfg.BackupS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 backup destination", "err", err)
			} else {
				dests = append(dests, s3Dest)
				logger.Info("backup S3 destination enabled", "bucket", cfg.BackupS3Bucket, "key", cfg.BackupS3Key)
			}
		}

		if cfg.BackupGitRepo != "" {
			gitDest := ledger.NewGitDestination(cfg.BackupGitRepo, cfg.BackupGitFile, cfg.BackupGitBranch)
			dests = append(dests, gitDest)
			logger.Info("backup git destination enabled", "repo", cfg.BackupGitRepo, "file", cfg.BackupGitFile)
		}

		if len(dests) > 0 {
			scheduler = ledger.NewScheduler(store, dests, cfg.BackupInterval, logger)
			scheduler.Start()
			logger.Info("backup scheduler started", "interval", cfg.BackupInterval)
		}
	}

	logger.Info("chiptrace server started", "http_addr", cfg.HTTPAddr)

	// Wait for SIGINT or SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	// Graceful shutdown.
	if scheduler != nil {
		scheduler.Stop()
		logger.Info("backup scheduler stopped")
	}

	if sweeper != nil {
		sweeper.Stop()
		logger.Info("window sweeper stopped")
	}

	chipsServer.Presence.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")

	if err := publisher.Close(); err != nil {
		logger.Error("error closing publisher", "err", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("error closing store", "err", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
