package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/anstrom/ipprism/internal/api/middleware"
	"github.com/anstrom/ipprism/internal/logging"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
)

// Message types sent on the event stream.
const (
	MessageEvent   = "event"
	MessageOutcome = "outcome"
	MessageDropped = "dropped"
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// WebSocketHandler streams analysis progress to WebSocket clients.
type WebSocketHandler struct {
	manager  *Manager
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket handler.
func NewWebSocketHandler(manager *Manager, logger *logging.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		logger:  logger.WithComponent("api.websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by the router.
				return true
			},
		},
	}
}

// Events handles GET /api/v1/analyses/{id}/events. Past events are replayed
// first, then new ones are streamed until the run finishes, at which point a
// final outcome message is sent and the connection closed.
func (h *WebSocketHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, ok := h.manager.Subscribe(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("analysis %s not found", id))
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	requestID := middleware.GetRequestID(r)
	logger := h.logger.WithRunID(id)
	logger.Debug("WebSocket client connected", "remote_addr", r.RemoteAddr)

	closed := h.readPump(conn)

	send := func(msgType string, data interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(WebSocketMessage{
			Type:      msgType,
			Timestamp: time.Now().UTC(),
			Data:      data,
			RequestID: requestID,
		})
		if err != nil {
			logger.Debug("WebSocket write failed", "error", err)
			return false
		}
		return true
	}

	for _, ev := range sub.Replay {
		if !send(MessageEvent, ev) {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-sub.Events:
			if !open {
				h.finish(conn, id, send)
				return
			}
			if !send(MessageEvent, ev) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Debug("WebSocket client disconnected")
			return
		}
	}
}

// finish sends the closing message once the event channel is closed. A closed
// channel on a run that is still going means this client was dropped for
// falling behind.
func (h *WebSocketHandler) finish(conn *websocket.Conn, id string, send func(string, interface{}) bool) {
	view, _ := h.manager.Get(id)
	reason := "analysis finished"
	if view.State == RunRunning {
		send(MessageDropped, view)
		reason = "client fell behind"
	} else {
		send(MessageOutcome, view)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
}

// readPump consumes client frames so pongs and close frames are processed.
// The returned channel is closed when the client goes away.
func (h *WebSocketHandler) readPump(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}
