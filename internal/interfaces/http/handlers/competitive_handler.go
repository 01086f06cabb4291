package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/application/competitive"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

// CompetitiveHandler serves on-demand competitive reports.
type CompetitiveHandler struct {
	competitive competitive.Service
	logger      logging.Logger
}

func NewCompetitiveHandler(svc competitive.Service, logger logging.Logger) *CompetitiveHandler {
	return &CompetitiveHandler{competitive: svc, logger: logger.Named("http.competitive")}
}

// Report generates the competitive report for one dealership.
func (h *CompetitiveHandler) Report(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	report, err := h.competitive.Generate(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type bulkReportRequest struct {
	DealershipIDs []uuid.UUID `json:"dealership_ids" binding:"required"`
}

type bulkReportResponse struct {
	Reports map[uuid.UUID]*competitive.Report `json:"reports"`
	Errors  map[uuid.UUID]string              `json:"errors,omitempty"`
}

// BulkReports generates reports for a set of dealerships; per-entity failures
// are reported alongside the successes.
func (h *CompetitiveHandler) BulkReports(c *gin.Context) {
	var req bulkReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeInvalidParam, "invalid bulk report request body"))
		return
	}
	if len(req.DealershipIDs) == 0 {
		writeError(c, apperrors.InvalidParam("dealership_ids must not be empty"))
		return
	}

	res, err := h.competitive.GenerateBulk(c.Request.Context(), req.DealershipIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	out := bulkReportResponse{Reports: res.Reports}
	if len(res.Errors) > 0 {
		out.Errors = make(map[uuid.UUID]string, len(res.Errors))
		for id, e := range res.Errors {
			out.Errors[id] = e.Error()
		}
	}
	c.JSON(http.StatusOK, out)
}
