package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
	"github.com/yourusername/offline-go/internal/events"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventSource is where orchestrator events are subscribed to
type EventSource interface {
	Subscribe(handler events.Handler) *events.Subscription
}

// EventWebSocketHandler streams orchestrator events to WebSocket clients
type EventWebSocketHandler struct {
	source EventSource
	logger *zap.Logger
}

// NewEventWebSocketHandler creates a new event stream handler
func NewEventWebSocketHandler(source EventSource, logger *zap.Logger) *EventWebSocketHandler {
	return &EventWebSocketHandler{source: source, logger: logger}
}

// HandleWebSocket handles GET /api/v1/events. The optional key query
// parameter restricts the stream to one download or group.
func (h *EventWebSocketHandler) HandleWebSocket(c *gin.Context) {
	key := c.Query("key")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("Event stream client connected",
		zap.String("key", key),
		zap.String("remote_addr", c.Request.RemoteAddr))

	queue := make(chan domain.Event, 64)
	stop := make(chan struct{})
	sub := h.source.Subscribe(func(event domain.Event) {
		if key != "" && !concerns(event, key) {
			return
		}
		select {
		case queue <- event:
		case <-stop:
		}
	})
	defer sub.Unsubscribe()
	defer close(stop)

	// Read messages from client (for close frames)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("Failed to send event", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// concerns reports whether the event is about the download or group with key
func concerns(event domain.Event, key string) bool {
	if event.Subject() == key {
		return true
	}
	if event.Group != nil && event.Group.Current != nil && event.Group.Current.Key == key {
		return true
	}
	return event.Member != nil && event.Member.Key == key
}
