package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/wallcache-go/internal/app"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	index *app.IndexManager
	hub   *app.ProgressHub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(index *app.IndexManager, hub *app.ProgressHub) *HealthHandler {
	return &HealthHandler{
		index: index,
		hub:   hub,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Index   struct {
		Entries     int `json:"entries"`
		Diagnostics int `json:"diagnostics"`
	} `json:"index"`
	ProgressSubscribers int `json:"progress_subscribers"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	idx, err := h.index.Load()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Index.Entries = idx.Len()
	response.Index.Diagnostics = len(h.index.Diagnostics())
	if h.hub != nil {
		response.ProgressSubscribers = h.hub.SubscriberCount()
	}

	c.JSON(http.StatusOK, response)
}
