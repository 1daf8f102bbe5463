// main package for the music-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/music"
	"github.com/book-expert/music-service/internal/music/cache"
	"github.com/book-expert/music-service/internal/music/device"
	"github.com/book-expert/music-service/internal/music/output"
	"github.com/book-expert/music-service/internal/web"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout    = 30 * time.Second
	readHeaderTimeout  = 10 * time.Second
	sentryFlushTimeout = 2 * time.Second
)

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "music-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	envErr := godotenv.Load()
	if envErr != nil {
		bootstrapLog.Info("No .env file loaded, using process environment")
	}

	// 2. Load configuration
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "music-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	sentryEnabled := initSentry(cfg.Sentry, log)
	if sentryEnabled {
		defer sentry.Flush(sentryFlushTimeout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Build the generation stack
	outputs := output.NewResolver(cfg.Paths.OutputsDir, time.Now)

	err = outputs.EnsureDir()
	if err != nil {
		return fmt.Errorf("failed to prepare outputs directory: %w", err)
	}

	factory, err := buildFactory(ctx, cfg.Pipeline, log)
	if err != nil {
		return err
	}

	pipelines := cache.New(factory, log)

	defer func() {
		closeErr := pipelines.Close()
		if closeErr != nil {
			log.Error("Failed to release pipelines: %v", closeErr)
		}
	}()

	devices := device.NewResolver(nil)
	info := devices.Info()
	log.System("Accelerator: available=%t type=%s name=%s", info.Available, info.Type, info.DeviceName)

	generator := music.NewGenerator(devices, pipelines, outputs, log)

	// 5. Optional NATS worker
	workerErr, err := startWorker(ctx, cfg.NATS, generator, log)
	if err != nil {
		return err
	}

	// 6. Web front end
	gin.SetMode(gin.ReleaseMode)

	handler := web.NewHandler(generator, outputs, devices, pipelines, cfg.Paths.AssetsDir, cfg.Pipeline.ModelPath, log)
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           web.NewRouter(handler, log, web.RouterOptions{Sentry: sentryEnabled}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return serve(ctx, server, workerErr, log)
}

// serve runs server until ctx is cancelled, the server fails or the worker
// stops with an error, then shuts the server down.
func serve(ctx context.Context, server *http.Server, workerErr <-chan error, log *logger.Logger) error {
	serverErr := make(chan error, 1)

	go func() {
		log.System("music-service listening on http://%s", server.Addr)

		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}

		close(serverErr)
	}()

	var runErr error

	select {
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	case err := <-workerErr:
		if err != nil {
			runErr = fmt.Errorf("nats worker failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	server.SetKeepAlivesEnabled(false)

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("Graceful shutdown failed, forcing close: %v", shutdownErr)
		_ = server.Close()
	}

	log.Info("HTTP server stopped")

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
