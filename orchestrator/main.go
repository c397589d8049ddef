package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/engine"
	"github.com/flowdeck-labs/flowdeck-go/internal/platform/env"
	"github.com/flowdeck-labs/flowdeck-go/internal/platform/httpserver"
	"github.com/flowdeck-labs/flowdeck-go/internal/platform/objectstore"
	"github.com/flowdeck-labs/flowdeck-go/internal/platform/postgres"
	repopg "github.com/flowdeck-labs/flowdeck-go/internal/repo/postgres"
	"github.com/flowdeck-labs/flowdeck-go/internal/stage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("FLOWDECK_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("FLOWDECK_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	workerInterval, err := env.Duration("FLOWDECK_WORKER_INTERVAL", 2*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	executions := repopg.NewExecutionStore(db)
	queue := repopg.NewDispatchQueueStore(db)
	resolver := credential.NewResolver(repopg.NewCredentialStore(db), repopg.NewEnvironmentStore(db), logger)
	registry := stage.NewRegistry(stage.Deps{
		Archive: objectstore.NewArchive(storeClient, storeCfg.BucketArtifacts),
	})

	orch, err := engine.New(engine.Config{
		Logger:        logger,
		Definitions:   repopg.NewDefinitionStore(db),
		Builds:        repopg.NewBuildStore(db),
		Executions:    executions,
		Notifications: repopg.NewNotificationStore(db),
		Queue:         queue,
		Resolver:      resolver,
		Registry:      registry,
	})
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(2)
	}

	worker := engine.NewWorker(engine.WorkerConfig{
		Logger:       logger,
		Queue:        queue,
		Orchestrator: orch,
		Interval:     workerInterval,
	})
	go worker.Run(ctx)

	router := chi.NewRouter()
	router.Get("/healthz", httpserver.Healthz("orchestrator"))
	router.Get(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"orchestrator",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newOrchestratorAPI(logger, orch)
	api.register(router)

	cfg := httpserver.Config{
		Service:         "orchestrator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "orchestrator", router)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
