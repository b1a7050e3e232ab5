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
	"github.com/joho/godotenv"

	"github.com/cuongbtq/vanity-farm/internal/api/handler"
	"github.com/cuongbtq/vanity-farm/internal/api/router"
	"github.com/cuongbtq/vanity-farm/internal/app"
	"github.com/cuongbtq/vanity-farm/internal/config"
	"github.com/cuongbtq/vanity-farm/internal/payment"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	go backends.PurgeExpired(ctx, time.Minute)

	rpc := payment.NewClient(cfg.Payment.RPCURL, cfg.Payment.RequestTimeout, appLogger.Logger)
	gate := payment.NewGate(rpc, backends.Ledger, backends.Queue, payment.Config{
		Destination:    cfg.Payment.Destination,
		MinAmountDrops: cfg.Payment.MinAmountDrops,
		VerifyAttempts: cfg.Payment.VerifyAttempts,
		VerifyInterval: cfg.Payment.VerifyInterval,
		PublicBaseURL:  cfg.Payment.PublicBaseURL,
	}, appLogger.Logger)

	limiter := router.NewIPRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst, appLogger.Logger)
	defer limiter.Stop()

	r := initRouter(cfg, appLogger.Logger, backends, gate, limiter)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, backends *app.Backends, gate *payment.Gate, limiter *router.IPRateLimiter) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:      logger,
		Service:     "vanity-api-service",
		Ledger:      backends.Ledger,
		Gate:        gate,
		HealthCheck: backends.HealthCheck,
	}

	opts := router.Options{Limiter: limiter}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return router.SetupRouter(deps, opts)
}
