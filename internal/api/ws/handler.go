// Package ws streams command lifecycle events to WebSocket clients.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/domain/events"
	"github.com/termgate/termgate/internal/infrastructure/logging"
	"github.com/termgate/termgate/internal/infrastructure/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades connections and relays hub events to them.
type Handler struct {
	hub     *events.Hub
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a WebSocket handler. metrics may be nil.
func NewHandler(hub *events.Hub, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		hub:     hub,
		metrics: metrics,
		logger:  logger.Named("ws"),
	}
}

// HandleConnection upgrades the request and streams events until the client
// disconnects. An optional ?user_id= query filters to one user's events.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	userFilter := c.Query("user_id")
	sub, cancel := h.hub.Subscribe()
	defer cancel()

	// Reads are discarded; their only job is detecting disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			if userFilter != "" && event.UserID != userFilter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
