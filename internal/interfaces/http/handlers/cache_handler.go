package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// CacheHandler exposes cache statistics and targeted invalidation for
// operators.
type CacheHandler struct {
	cache  redis.Manager
	logger logging.Logger
}

func NewCacheHandler(cache redis.Manager, logger logging.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: logger.Named("http.cache")}
}

// Stats returns the process-local cache statistics snapshot.
func (h *CacheHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats(c.Request.Context()))
}

type invalidateRequest struct {
	DealershipIDs []uuid.UUID `json:"dealership_ids,omitempty"`
	AnalysisType  string      `json:"analysis_type,omitempty"`
	Pool          string      `json:"pool,omitempty"`
	All           bool        `json:"all,omitempty"`
}

// Invalidate drops cache entries by dealership list, pool, or wholesale.
func (h *CacheHandler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeInvalidParam, "invalid invalidate request body"))
		return
	}
	if len(req.DealershipIDs) == 0 && req.Pool == "" && !req.All {
		writeError(c, apperrors.InvalidParam("one of dealership_ids, pool, or all is required"))
		return
	}

	deleted, err := h.cache.Invalidate(c.Request.Context(), redis.InvalidateOptions{
		DealershipIDs: req.DealershipIDs,
		AnalysisType:  common.AnalysisType(req.AnalysisType),
		Pool:          req.Pool,
		All:           req.All,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("cache invalidated via API", logging.Int64("deleted", deleted))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
