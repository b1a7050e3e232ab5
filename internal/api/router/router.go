package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/vanity-farm/internal/api/handler"
)

// Options toggles the optional parts of a router.
type Options struct {
	// Limiter, when set, guards the progress and delivery routes.
	Limiter *IPRateLimiter
	// MetricsPath, when set, exposes the Prometheus registry.
	MetricsPath string
}

// SetupRouter configures the public API: payment verification, progress and delivery.
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := newEngine(deps, opts)

	jobHandler := handler.NewJobHandler(deps)
	paymentHandler := handler.NewPaymentHandler(deps)

	api := r.Group("/api")
	{
		// POST /api/payment/verify - Verify a payment and queue its job
		api.POST("/payment/verify", paymentHandler.VerifyPayment)

		limited := api.Group("")
		if opts.Limiter != nil {
			limited.Use(opts.Limiter.Middleware())
		}

		// GET /api/progress/:job_id - Job status and live progress
		limited.GET("/progress/:job_id", jobHandler.GetProgress)

		// GET /api/deliver/:job_id?token= - One-time result handoff
		limited.GET("/deliver/:job_id", jobHandler.Deliver)
	}

	return r
}

// SetupAdminRouter configures the worker's control surface.
func SetupAdminRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := newEngine(deps, opts)

	adminHandler := handler.NewAdminHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - Page through the ledger
			jobs.GET("", adminHandler.ListJobs)

			// GET /api/v1/jobs/active - Job currently running on this worker
			jobs.GET("/active", adminHandler.ActiveJob)

			// POST /api/v1/jobs/:job_id/stop - Interrupt the active job
			jobs.POST("/:job_id/stop", adminHandler.StopJob)
		}
	}

	return r
}

func newEngine(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps))

	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	return r
}
