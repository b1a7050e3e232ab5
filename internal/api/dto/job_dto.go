package dto

import (
	"time"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
)

type VerifyPaymentRequest struct {
	TxID string `json:"txid" binding:"required"`
}

type VerifyPaymentResponse struct {
	JobID       string `json:"jobId"`
	ProgressURL string `json:"progressUrl"`
	DeliveryURL string `json:"deliveryUrl"`
}

// ProgressResponse carries the ETAs only while a paid job reports a rate.
// eta_p90_seconds is the time by which 90% of searches would have finished.
type ProgressResponse struct {
	Status        string   `json:"status"`
	Rate          float64  `json:"rate"`
	Attempts      uint64   `json:"attempts"`
	ETASeconds    *float64 `json:"eta_seconds,omitempty"`
	ETAP90Seconds *float64 `json:"eta_p90_seconds,omitempty"`
	// Probability is the chance a match would have been found by now.
	Probability float64 `json:"probability,omitempty"`
}

type StopJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}

type DeliveryResponse struct {
	Cipher *delivery.Envelope `json:"cipher"`
	TxID   string             `json:"txid"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ListJobsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=paid complete failed"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Cursor   string `form:"cursor"`
}

type JobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	Prefix    string    `json:"prefix,omitempty"`
	Suffix    string    `json:"suffix,omitempty"`
	Length    int       `json:"len"`
	Algorithm string    `json:"algorithm"`
	ReceiptTx string    `json:"receipt_tx"`
	CreatedAt time.Time `json:"created_at"`
}

type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
