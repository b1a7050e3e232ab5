package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/worker/domain"
)

// StopJob handles POST /api/v1/jobs/:job_id/stop
// Interrupts the worker's active job, which then ends failed.
func (h *AdminHandler) StopJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.stopper.StopJob(jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotActive) {
			abortWithError(c, http.StatusNotFound, "job is not running on this worker")
			return
		}
		h.logger.Error("Failed to stop job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		abortWithError(c, http.StatusInternalServerError, "internal error")
		return
	}

	c.JSON(http.StatusAccepted, dto.StopJobResponse{JobID: jobID, Status: "stopping"})
}

// ActiveJob handles GET /api/v1/jobs/active
func (h *AdminHandler) ActiveJob(c *gin.Context) {
	id := h.stopper.ActiveJob()
	if id == "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, dto.StopJobResponse{JobID: id, Status: "running"})
}

// ListJobs handles GET /api/v1/jobs
// Pages through the ledger newest first. Backends without an index answer 501.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	lister, ok := h.ledger.(ledger.Lister)
	if !ok {
		abortWithError(c, http.StatusNotImplemented, "ledger backend cannot list jobs")
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid cursor")
		return
	}

	filter := ledger.JobFilter{
		Status:   ledger.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	}
	if filter.PageSize == 0 {
		filter.PageSize = ledger.DefaultPageSize
	}

	jobs, err := lister.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		abortWithError(c, http.StatusInternalServerError, "internal error")
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobResponse, 0, len(jobs))}
	if len(jobs) > filter.PageSize {
		jobs = jobs[:filter.PageSize]
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&ledger.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, dto.JobResponse{
			JobID:     job.ID,
			Status:    string(job.Status),
			Mode:      string(job.Constraint.Mode),
			Prefix:    job.Constraint.Prefix,
			Suffix:    job.Constraint.Suffix,
			Length:    job.Constraint.Length,
			Algorithm: string(job.Algorithm),
			ReceiptTx: job.ReceiptTx,
			CreatedAt: job.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, resp)
}
