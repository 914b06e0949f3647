package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressWebSocketHandler streams batch progress events to websocket clients
type ProgressWebSocketHandler struct {
	hub    *app.ProgressHub
	logger *zap.Logger
}

// NewProgressWebSocketHandler creates a new progress stream handler
func NewProgressWebSocketHandler(hub *app.ProgressHub, log *zap.Logger) *ProgressWebSocketHandler {
	return &ProgressWebSocketHandler{
		hub:    hub,
		logger: log,
	}
}

// HandleWebSocket handles GET /api/v1/progress
func (h *ProgressWebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	h.logger.Info("Progress client connected", zap.String("remote_addr", c.Request.RemoteAddr))

	// Read messages from client so close frames and pongs are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Failed to send progress event", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}

		case <-done:
			h.logger.Info("Progress client disconnected", zap.String("remote_addr", c.Request.RemoteAddr))
			return
		}
	}
}
