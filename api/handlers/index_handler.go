package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/app"
)

// IndexHandler exposes index maintenance operations
type IndexHandler struct {
	index  *app.IndexManager
	logger *zap.Logger
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(index *app.IndexManager, logger *zap.Logger) *IndexHandler {
	return &IndexHandler{
		index:  index,
		logger: logger,
	}
}

// Rebuild handles POST /api/v1/index/rebuild
func (h *IndexHandler) Rebuild(c *gin.Context) {
	idx := h.index.Rebuild()

	diagnostics := make([]string, 0)
	for _, d := range h.index.Diagnostics() {
		diagnostics = append(diagnostics, d.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":      idx.Len(),
		"last_updated": idx.LastUpdated,
		"diagnostics":  diagnostics,
	})
}

// Prune handles POST /api/v1/index/prune?keep=N
func (h *IndexHandler) Prune(c *gin.Context) {
	keep, err := strconv.Atoi(c.Query("keep"))
	if err != nil || keep < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'keep' must be a non-negative integer"})
		return
	}

	removed, err := h.index.Prune(keep)
	if err != nil {
		h.logger.Error("Failed to prune index", zap.Int("keep", keep), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if removed == nil {
		removed = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"kept":    keep,
		"removed": removed,
	})
}
