package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/payment"
)

// PaymentVerifier turns a payment transaction into a queued job.
type PaymentVerifier interface {
	Verify(ctx context.Context, txid string) (*payment.Receipt, error)
}

// JobStopper is the worker's view of its active job.
type JobStopper interface {
	StopJob(jobID string) error
	ActiveJob() string
}

// HealthCheckFunc reports whether a backing store is reachable.
type HealthCheckFunc func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Service     string
	Ledger      ledger.Ledger
	Gate        PaymentVerifier
	Stopper     JobStopper
	HealthCheck HealthCheckFunc
}

// JobHandler serves progress and delivery for jobs
type JobHandler struct {
	logger *slog.Logger
	ledger ledger.Ledger
}

func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
	}
}

// PaymentHandler serves payment verification
type PaymentHandler struct {
	logger *slog.Logger
	gate   PaymentVerifier
}

func NewPaymentHandler(deps *Dependencies) *PaymentHandler {
	return &PaymentHandler{
		logger: deps.Logger,
		gate:   deps.Gate,
	}
}

// AdminHandler serves the worker's control endpoints
type AdminHandler struct {
	logger  *slog.Logger
	stopper JobStopper
	ledger  ledger.Ledger
}

func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger:  deps.Logger,
		stopper: deps.Stopper,
		ledger:  deps.Ledger,
	}
}

// Health handles GET /health
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed", slog.String("error", err.Error()))
				c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
					Status:  "unhealthy",
					Service: deps.Service,
					Error:   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, dto.HealthResponse{
			Status:  "healthy",
			Service: deps.Service,
		})
	}
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg})
}
