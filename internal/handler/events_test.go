package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/events"
	"github.com/arhansuba/zr-don-pay/pkg/logger/loggertest"
)

type wsMessage struct {
	Type  string                 `json:"type"`
	Event domain.CompletionEvent `json:"event"`
}

func TestEventsWebSocket_ReplayThenStream(t *testing.T) {
	hub := events.NewHub(10, loggertest.New())
	defer hub.Close()
	past := domain.CompletionEvent{SubmissionID: uuid.New(), RequestID: 1}
	hub.Publish(past)

	h := NewEventsHandler(hub, loggertest.New())
	srv := httptest.NewServer(http.HandlerFunc(h.WebSocketHandler))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?replay=5"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "completion_event", msg.Type)
	assert.Equal(t, past.SubmissionID, msg.Event.SubmissionID)

	// The handler subscribes before replaying, so a publish now is delivered.
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	live := domain.CompletionEvent{SubmissionID: uuid.New(), RequestID: 2}
	hub.Publish(live)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, live.SubmissionID, msg.Event.SubmissionID)
}

func TestEventsWebSocket_ClosesWithHub(t *testing.T) {
	hub := events.NewHub(10, loggertest.New())
	h := NewEventsHandler(hub, loggertest.New())
	srv := httptest.NewServer(http.HandlerFunc(h.WebSocketHandler))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEventsRecent(t *testing.T) {
	hub := events.NewHub(10, loggertest.New())
	defer hub.Close()
	for i := uint64(1); i <= 3; i++ {
		hub.Publish(domain.CompletionEvent{RequestID: i})
	}

	w := httptest.NewRecorder()
	NewEventsHandler(hub, loggertest.New()).Recent(w, httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []domain.CompletionEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, uint64(2), body.Events[0].RequestID)
	assert.Equal(t, uint64(3), body.Events[1].RequestID)
}

func TestHealthAndReady(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return assert.AnError }

	w := httptest.NewRecorder()
	NewHealthHandler(nil, loggertest.New()).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"ledger": ok}, loggertest.New()).Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	log := loggertest.New()
	w = httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"ledger": ok, "database": down}, log).Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"outage"`)
	assert.Equal(t, 1, log.Count("Readiness check failed"))
}
