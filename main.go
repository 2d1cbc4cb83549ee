package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gotasks/models"
	"gotasks/web"

	"github.com/rohanthewiz/logger"
)

func main() {
	// Initialize logger
	logLevel := os.Getenv("GOTASKS_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.SetLogLevel(logLevel)

	// Load and validate configuration up front so a bad deployment fails
	// here, not mid-pass
	cfg, err := models.LoadSyncConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	if err = cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// Queue-at-rest encryption; GOTASKS_ENCRYPTION_KEY is required
	if err = models.InitEncryption(); err != nil {
		log.Fatal("Failed to initialize encryption: ", err)
	}

	// Initialize database
	if err = models.InitDB(cfg.DBPath); err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer models.CloseDB()

	// Load the persisted mutation queue
	queue, err := models.NewQueueStore(models.NewDuckDBBlobStore())
	if err != nil {
		log.Fatal("Failed to load mutation queue: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Wire the sync engine when a remote is configured. Without one the app
	// still runs: edits land in the cache and queue and drain once a remote
	// is configured on a later start.
	if cfg.RemoteURL != "" {
		remote, err := models.NewRemoteClient(cfg)
		if err != nil {
			log.Fatal("Failed to build remote client: ", err)
		}

		reach := models.NewReachabilityMonitor(remote.HealthCheck, 0)
		throttle := models.NewDeviceThrottle(models.NewStaticSignalSource(), cfg.BatchSize, cfg.ReducedBatchSize)

		engine, err := models.NewSyncEngine(cfg, models.SyncEngineOptions{
			Queue:        queue,
			Remote:       remote,
			Throttle:     throttle,
			Reachability: reach,
			OnApplied:    models.RefreshTaskBase,
		})
		if err != nil {
			log.Fatal("Failed to build sync engine: ", err)
		}

		reach.Start(ctx)
		engine.Start(ctx)
		defer engine.Stop()
		defer reach.Stop()
	} else {
		logger.Info("No remote configured; running local-only")
	}

	// Start server
	srv := web.NewServer()
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.Run(srv)
	}()

	select {
	case err = <-errCh:
		logger.LogErr(err, "server exited")
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}
}
