package main

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/music/pipeline"
	"github.com/book-expert/music-service/internal/objectstore"
	"github.com/book-expert/music-service/internal/worker"
	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
)

const healthCheckTimeout = 5 * time.Second

// buildFactory selects the pipeline backend named in cfg.
func buildFactory(ctx context.Context, cfg config.PipelineConfig, log *logger.Logger) (core.PipelineFactory, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		client := pipeline.NewHTTPClient(cfg.ServiceURL, cfg.Timeout())

		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		healthErr := client.HealthCheck(checkCtx)
		if healthErr != nil {
			log.Warn("Inference sidecar at %s is not healthy yet: %v", cfg.ServiceURL, healthErr)
		}

		log.Info("Using http pipeline backend at %s", cfg.ServiceURL)

		return pipeline.NewHTTPFactory(client, log), nil
	case config.BackendExec:
		log.Info("Using exec pipeline backend %s", cfg.BinaryPath)

		return pipeline.NewExecFactory(cfg.BinaryPath, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

// startWorker connects to NATS and runs the generation worker in the
// background when enabled. The returned channel yields the worker's exit
// error; it is nil when the worker is disabled.
func startWorker(
	ctx context.Context,
	cfg config.NATSConfig,
	generator worker.Generator,
	log *logger.Logger,
) (<-chan error, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	natsConnection, err := nats.Connect(cfg.URL, nats.Name("music-service"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.ArtifactBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		cfg.GenerateSubject,
		store,
		generator,
		time.Duration(cfg.HandleTimeoutSeconds)*time.Second,
		log,
	)

	workerErr := make(chan error, 1)

	go func() {
		defer natsConnection.Close()

		workerErr <- natsWorker.Run(ctx)
	}()

	log.System("NATS worker enabled: subject=%s bucket=%s", cfg.GenerateSubject, store.Bucket())

	return workerErr, nil
}

// initSentry enables error reporting when a DSN is configured.
func initSentry(cfg config.SentryConfig, log *logger.Logger) bool {
	if cfg.DSN == "" {
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     "music-service",
	})
	if err != nil {
		log.Warn("Failed to initialize Sentry: %v", err)

		return false
	}

	log.Info("Sentry initialized (environment: %s)", cfg.Environment)

	return true
}
