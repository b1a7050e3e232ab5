package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/metrics"
	"github.com/cuongbtq/vanity-farm/internal/payment"
)

// rejections are payment errors reported to the caller as 400 with their own text.
var rejections = []error{
	payment.ErrInvalidTxID,
	payment.ErrNotValidated,
	payment.ErrNotPayment,
	payment.ErrBadDestination,
	payment.ErrInsufficientAmount,
	payment.ErrMissingMemo,
	payment.ErrBadMemo,
	payment.ErrBadIntent,
	payment.ErrBadOrder,
}

// VerifyPayment handles POST /api/payment/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		abortWithError(c, http.StatusBadRequest, "Bad Request")
		return
	}

	receipt, err := h.gate.Verify(c.Request.Context(), req.TxID)
	if err != nil {
		status, msg, result := classifyPaymentError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Payment verification failed",
				slog.String("txid", req.TxID),
				slog.String("error", err.Error()),
			)
		}
		metrics.PaymentsTotal.WithLabelValues(result).Inc()
		abortWithError(c, status, msg)
		return
	}

	metrics.PaymentsTotal.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusOK, dto.VerifyPaymentResponse{
		JobID:       receipt.JobID,
		ProgressURL: receipt.ProgressURL,
		DeliveryURL: receipt.DeliveryURL,
	})
}

func classifyPaymentError(err error) (status int, msg, result string) {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return http.StatusBadRequest, r.Error(), "rejected"
		}
	}
	switch {
	case errors.Is(err, payment.ErrTxNotFound):
		return http.StatusNotFound, payment.ErrTxNotFound.Error(), "not_found"
	case errors.Is(err, payment.ErrAlreadyRedeemed):
		return http.StatusConflict, payment.ErrAlreadyRedeemed.Error(), "duplicate"
	case errors.Is(err, payment.ErrEnqueue):
		return http.StatusServiceUnavailable, "verify failed", "error"
	}
	return http.StatusInternalServerError, "verify failed", "error"
}
