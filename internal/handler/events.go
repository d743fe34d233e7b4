package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventSource is the in-process completion event feed.
type EventSource interface {
	Subscribe(buffer int) (<-chan domain.CompletionEvent, func())
	Recent(n int) []domain.CompletionEvent
}

// EventsHandler streams completion events to websocket clients.
type EventsHandler struct {
	source EventSource
	logger logger.Logger
}

func NewEventsHandler(source EventSource, log logger.Logger) *EventsHandler {
	return &EventsHandler{source: source, logger: log}
}

// Recent returns the latest completion events (?limit=n).
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": h.source.Recent(limit)}, h.logger)
}

// WebSocketHandler replays ?replay=n recent events, then streams new ones.
func (h *EventsHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	replay := 0
	if v := r.URL.Query().Get("replay"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			replay = n
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	events, release := h.source.Subscribe(0)
	defer release()

	h.logger.Info("WebSocket client connected", map[string]interface{}{"remote": r.RemoteAddr})
	defer h.logger.Info("WebSocket client disconnected", map[string]interface{}{"remote": r.RemoteAddr})

	if replay > 0 {
		for _, ev := range h.source.Recent(replay) {
			if err := h.write(conn, ev); err != nil {
				return
			}
		}
	}

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, ev); err != nil {
				h.logger.Warn("Failed to send completion event", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, ev domain.CompletionEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(map[string]interface{}{
		"type":      "completion_event",
		"timestamp": time.Now().UTC(),
		"event":     ev,
	})
}
