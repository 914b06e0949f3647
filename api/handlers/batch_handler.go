package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/app"
	"github.com/yourusername/wallcache-go/internal/domain"
)

// BatchHandler handles batch fetch and history requests
type BatchHandler struct {
	batches *app.BatchService
	logger  *zap.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batches *app.BatchService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		logger:  logger,
	}
}

// CreateBatch handles POST /api/v1/batches. The batch runs to completion
// before responding; a dropped client connection cancels it.
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req app.FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.batches.Fetch(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidFetchRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to run batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, report)
}

// ListBatches handles GET /api/v1/batches
func (h *BatchHandler) ListBatches(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	batches, err := h.batches.ListBatches(limit)
	if err != nil {
		h.logger.Error("Failed to list batches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batches)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batch, err := h.batches.GetBatch(c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batch)
}

// GetStats handles GET /api/v1/batches/stats
func (h *BatchHandler) GetStats(c *gin.Context) {
	stats, err := h.batches.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}
