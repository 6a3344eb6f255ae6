// Package http exposes the service's REST surface: message intake, session
// inspection and health.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/chat"
	"github.com/termgate/termgate/internal/domain/manager"
	"github.com/termgate/termgate/internal/domain/session"
	"github.com/termgate/termgate/internal/infrastructure/logging"
	"github.com/termgate/termgate/internal/shared/id"
)

// Pinger is implemented by collaborators that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	manager  *manager.Manager
	store    session.Store
	notifier *chat.Notifier
	logger   *logging.Logger

	storePing   Pinger
	runtimePing Pinger

	// async, when set with a notifier, acknowledges deliveries with 202 and
	// posts replies to the chat callback instead of the HTTP response.
	async bool
}

// NewHandlers creates a new handler set. notifier may be nil; storePing and
// runtimePing may be nil when the collaborator cannot report liveness.
func NewHandlers(mgr *manager.Manager, store session.Store, notifier *chat.Notifier, storePing, runtimePing Pinger, async bool, logger *logging.Logger) *Handlers {
	return &Handlers{
		manager:     mgr,
		store:       store,
		notifier:    notifier,
		logger:      logger.Named("http"),
		storePing:   storePing,
		runtimePing: runtimePing,
		async:       async && notifier != nil,
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termgate",
		"version": "1.0.0",
	})
}

// Health reports collaborator liveness. The service stays up when a
// collaborator is down; commands fail with a clear reply instead.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	check := func(p Pinger) gin.H {
		if p == nil {
			return gin.H{"status": "unknown"}
		}
		if err := p.Ping(ctx); err != nil {
			return gin.H{"status": "down", "error": err.Error()}
		}
		return gin.H{"status": "up"}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"store":   check(h.storePing),
		"runtime": check(h.runtimePing),
	})
}

// HandleMessage accepts one chat delivery and runs it through the manager.
// Synchronous mode returns the reply in the response body; asynchronous mode
// acknowledges with 202 and posts the reply to the configured callback.
func (h *Handlers) HandleMessage(c *gin.Context) {
	var msg chat.Inbound
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, message_id and text are required"})
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	requestID := id.NewRequestID()
	log := h.logger.With(
		zap.String("request_id", requestID.String()),
		zap.String("user_id", msg.UserID),
		zap.String("message_id", msg.MessageID),
	)
	log.Info("message received")

	if h.async {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			reply := h.manager.Handle(ctx, msg)
			if err := h.notifier.Send(ctx, reply); err != nil {
				log.Error("failed to deliver reply", zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "request_id": requestID.String()})
		return
	}

	reply := h.manager.Handle(c.Request.Context(), msg)
	c.JSON(http.StatusOK, reply)
}

type sessionView struct {
	UserID     string            `json:"user_id"`
	Container  *string           `json:"container,omitempty"`
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env,omitempty"`
	Revision   uint64            `json:"revision"`
	LastActive time.Time         `json:"last_active"`
	Stale      bool              `json:"stale,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	v := sessionView{
		UserID:     s.UserID,
		WorkingDir: s.WorkingDir,
		Env:        s.Env,
		Revision:   s.Revision,
		LastActive: s.LastActive,
		Stale:      s.ContainerStale,
	}
	if s.Container != nil {
		name := s.Container.Name
		v.Container = &name
	}
	return v
}

// GetSession returns one user's session.
func (h *Handlers) GetSession(c *gin.Context) {
	userID := c.Param("user_id")

	s, err := h.store.Get(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, session.ErrNotFound) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

// ListSessions returns all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	views := []sessionView{}
	err := h.store.Scan(c.Request.Context(), func(s *session.Session) bool {
		views = append(views, viewOf(s))
		return true
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views, "count": len(views)})
}
