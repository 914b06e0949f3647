package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/app"
	"github.com/yourusername/wallcache-go/internal/domain"
)

// EntryHandler exposes the metadata index
type EntryHandler struct {
	index   *app.IndexManager
	batches *app.BatchService
	logger  *zap.Logger
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(index *app.IndexManager, batches *app.BatchService, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{
		index:   index,
		batches: batches,
		logger:  logger,
	}
}

// ListEntries handles GET /api/v1/entries
func (h *EntryHandler) ListEntries(c *gin.Context) {
	entries, err := h.index.GetAll()
	if err != nil {
		h.logger.Error("Failed to list entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// GetEntry handles GET /api/v1/entries/:key
func (h *EntryHandler) GetEntry(c *gin.Context) {
	entry, err := h.index.Get(c.Param("key"))
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// GetEntryHistory handles GET /api/v1/entries/:key/history
func (h *EntryHandler) GetEntryHistory(c *gin.Context) {
	tasks, err := h.batches.TasksForKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(tasks),
		"tasks": tasks,
	})
}

// DeleteEntry handles DELETE /api/v1/entries/:key, removing the entry and its file
func (h *EntryHandler) DeleteEntry(c *gin.Context) {
	key := c.Param("key")

	if err := h.index.Purge(key); err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.logger.Error("Failed to purge entry", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "entry deleted"})
}
