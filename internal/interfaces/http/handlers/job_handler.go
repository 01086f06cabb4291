package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dealeredge/visibility-engine/internal/application/pipeline"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

// JobHandler serves the bulk analysis job API.
type JobHandler struct {
	pipeline pipeline.Service
	logger   logging.Logger
}

func NewJobHandler(p pipeline.Service, logger logging.Logger) *JobHandler {
	return &JobHandler{pipeline: p, logger: logger.Named("http.jobs")}
}

// Submit accepts a job request and returns 202 with the new job id.
func (h *JobHandler) Submit(c *gin.Context) {
	var in pipeline.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeInvalidParam, "invalid job request body"))
		return
	}

	id, err := h.pipeline.Submit(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

// Get returns the job's status view.
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	view, err := h.pipeline.GetStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Cancel requests cancellation of a pending or running job.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.pipeline.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": "cancelled"})
}

// Statistics aggregates job outcomes over a window (default 24h).
func (h *JobHandler) Statistics(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(c, apperrors.InvalidParam("window must be a positive duration, e.g. 24h"))
			return
		}
		window = parsed
	}

	stats, err := h.pipeline.GetStatistics(c.Request.Context(), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
