package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/vanity-farm/internal/api/handler"
	"github.com/cuongbtq/vanity-farm/internal/api/router"
	"github.com/cuongbtq/vanity-farm/internal/app"
	"github.com/cuongbtq/vanity-farm/internal/config"
	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/worker"
	"github.com/cuongbtq/vanity-farm/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := fmt.Sprintf("%s-%s", hostname(), uuid.NewString()[:8])
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	if _, err := backends.RecoverInFlight(ctx); err != nil {
		return fmt.Errorf("failed to recover in-flight jobs: %w", err)
	}

	units := worker.PlanUnits(ctx, worker.SizingConfig{
		CPUUnits:    cfg.Worker.CPUUnits,
		UnitBinary:  cfg.Worker.UnitBinary,
		GPUEnabled:  cfg.GPU.Enabled,
		GPUDetect:   cfg.GPU.DetectCommand,
		GPUCommand:  cfg.GPU.Command,
		KillTimeout: cfg.Worker.KillTimeout,
	}, appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Ledger:            backends.Ledger,
		Queue:             backends.Queue,
		Codec:             delivery.NewCodec(cfg.Delivery.Iterations),
		Units:             units,
		WorkerID:          workerID,
		TelemetryInterval: cfg.Worker.TelemetryInterval,
		ProgressInterval:  cfg.Worker.ProgressInterval,
		KillTimeout:       cfg.Worker.KillTimeout,
		JobTimeout:        cfg.Worker.JobTimeout,
		FinalizeTimeout:   cfg.Worker.FinalizeTimeout,
		MaxUnitRestarts:   cfg.Worker.MaxUnitRestarts,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := workerInstance.Start(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("worker stopped consuming")
		}
		return nil
	})

	if cfg.Worker.AdminPort > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.AdminPort),
			Handler:           initAdminRouter(cfg, appLogger.Logger, backends, workerInstance),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			appLogger.Info("Starting admin server", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully", slog.Int("units", workerInstance.UnitCount()))

	<-gctx.Done()
	appLogger.Info("Shutting down worker service...")

	// Give the active job time to stop its units and record its outcome
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   timeFormat,
	})
}

// initAdminRouter exposes health, metrics and the stop control for this worker
func initAdminRouter(cfg *config.Config, logger *slog.Logger, backends *app.Backends, w *worker.Worker) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:      logger,
		Service:     "vanity-worker-service",
		Ledger:      backends.Ledger,
		Stopper:     w,
		HealthCheck: backends.HealthCheck,
	}

	var opts router.Options
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return router.SetupAdminRouter(deps, opts)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}
