package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/metrics"
)

// GetProgress handles GET /api/progress/:job_id
// Unknown ids report status unknown rather than 404.
func (h *JobHandler) GetProgress(c *gin.Context) {
	jobID := c.Param("job_id")
	ctx := c.Request.Context()

	job, err := h.ledger.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusOK, dto.ProgressResponse{Status: string(ledger.StatusUnknown)})
			return
		}
		h.logger.Error("Failed to load job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		abortWithError(c, http.StatusInternalServerError, "internal error")
		return
	}

	resp := dto.ProgressResponse{Status: string(job.Status)}
	if job.Status == ledger.StatusPaid {
		p, err := h.ledger.GetProgress(ctx, jobID)
		if err != nil {
			h.logger.Warn("Failed to load job progress", slog.String("job_id", jobID), slog.String("error", err.Error()))
		} else {
			resp.Attempts = p.Attempts
			resp.Rate = p.Rate
			difficulty := job.Constraint.Difficulty()
			if eta := matcher.MedianETASeconds(difficulty, p.Rate); !math.IsInf(eta, 0) {
				resp.ETASeconds = &eta
			}
			if eta := matcher.QuantileETASeconds(difficulty, p.Rate, 0.9); !math.IsInf(eta, 0) {
				resp.ETAP90Seconds = &eta
			}
			resp.Probability = matcher.SuccessProbability(p.Attempts, difficulty)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Deliver handles GET /api/deliver/:job_id?token=
// Hands out the sealed result exactly once.
func (h *JobHandler) Deliver(c *gin.Context) {
	jobID := c.Param("job_id")
	token := c.Query("token")

	red, err := h.ledger.Redeem(c.Request.Context(), jobID, token)
	if err != nil {
		status, msg, result := classifyRedeemError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Redemption failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
		metrics.RedemptionsTotal.WithLabelValues(result).Inc()
		abortWithError(c, status, msg)
		return
	}

	metrics.RedemptionsTotal.WithLabelValues("delivered").Inc()
	h.logger.Info("Result delivered", slog.String("job_id", jobID))
	c.JSON(http.StatusOK, dto.DeliveryResponse{
		Cipher: red.Envelope,
		TxID:   red.ReceiptTx,
	})
}

func classifyRedeemError(err error) (status int, msg, result string) {
	switch {
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "forbidden", "forbidden"
	case errors.Is(err, ledger.ErrNotReady):
		return http.StatusNotFound, "not ready", "not_ready"
	case errors.Is(err, ledger.ErrGone):
		return http.StatusGone, "gone", "gone"
	}
	return http.StatusInternalServerError, "internal error", "error"
}
