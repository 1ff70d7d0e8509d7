// Package ws streams engine events to WebSocket subscribers.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/engine"
	"github.com/trayfold/trayfold/internal/events"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool {
		// Loopback-only daemon; the settings page arrives from file://
		// with no usable origin.
		return true
	},
}

const writeTimeout = 5 * time.Second

// Handler upgrades connections and fans engine events out to them.
type Handler struct {
	engine  *engine.Engine
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(eng *engine.Engine, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		engine:  eng,
		metrics: metrics,
		logger:  logger,
	}
}

// statusFrame replays the fold state to a fresh subscriber.
type statusFrame struct {
	Type string `json:"type"`
	engine.Status
}

// eventFrame carries one bus event to the peer.
type eventFrame struct {
	Type   string    `json:"type"`
	Event  string    `json:"event"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// HandleConnection upgrades the request, replays the current state and
// forwards events until the peer goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	id := "ws_" + uuid.NewString()
	ch := make(chan events.Event, 32)
	if err := h.engine.Subscribe(id, ch); err != nil {
		h.logger.Warn("websocket subscribe failed", zap.String("conn", id), zap.Error(err))
		return
	}
	defer func() { _ = h.engine.Unsubscribe(id) }()

	sink := &sink{conn: conn}

	// A fresh subscriber first learns where the fold currently stands;
	// events only report changes after this point.
	if err := sink.send(statusFrame{Type: "status", Status: h.engine.Status(c.Request.Context())}); err != nil {
		return
	}
	h.metrics.RecordWSMessage("out", "status")

	done := make(chan struct{})
	go h.pump(sink, ch, done)

	h.read(sink)
	close(done)
}

// pump forwards bus events to the peer until done closes.
func (h *Handler) pump(s *sink, ch <-chan events.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			frame := eventFrame{
				Type:   "event",
				Event:  string(evt.Type),
				Reason: evt.Reason,
				At:     evt.At,
			}
			if err := s.send(frame); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", string(evt.Type))
		}
	}
}

// read consumes control messages until the peer disconnects.
func (h *Handler) read(s *sink) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			_ = s.send(gin.H{"type": "error", "error": "malformed message"})
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "ping":
			_ = s.send(gin.H{"type": "pong"})
		default:
			_ = s.send(gin.H{"type": "error", "error": "unknown message type"})
		}
	}
}

// sink serializes writes; the pump and the reader both answer the peer.
type sink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *sink) send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
