package simnode

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Router serves the node API under /v1.
func (n *Node) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("", n.handleInfo).Methods(http.MethodGet)
	v1.HandleFunc("/", n.handleInfo).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}", n.handleAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}/resource/{type}", n.handleResource).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", n.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/by_hash/{hash}", n.handleTransaction).Methods(http.MethodGet)
	v1.HandleFunc("/events/stream", n.handleStream).Methods(http.MethodGet)
	return r
}

func (n *Node) handleInfo(w http.ResponseWriter, r *http.Request) {
	n.respondJSON(w, http.StatusOK, n.Info())
}

func (n *Node) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	acct, ok := n.Account(addr)
	if !ok {
		n.respondError(w, http.StatusNotFound, "account_not_found", "Account not found by Address("+addr+")")
		return
	}
	n.respondJSON(w, http.StatusOK, acct)
}

func (n *Node) handleResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, ok := n.Resource(vars["address"], vars["type"])
	if !ok {
		n.respondError(w, http.StatusNotFound, "resource_not_found", "Resource not found by Address("+vars["address"]+"), Struct tag("+vars["type"]+")")
		return
	}
	n.respondJSON(w, http.StatusOK, res)
}

func (n *Node) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req ledger.SubmitTransactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		n.respondError(w, http.StatusBadRequest, "invalid_input", "Invalid transaction body")
		return
	}
	view, err := n.SubmitTransaction(req)
	if err != nil {
		var nodeErr *Error
		if errors.As(err, &nodeErr) {
			n.respondError(w, nodeErr.Status, nodeErr.Code, nodeErr.Message)
			return
		}
		n.respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	n.respondJSON(w, http.StatusAccepted, view)
}

func (n *Node) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	view, ok := n.Transaction(hash)
	if !ok {
		n.respondError(w, http.StatusNotFound, "transaction_not_found", "Transaction not found by Transaction hash("+hash+")")
		return
	}
	n.respondJSON(w, http.StatusOK, view)
}

// handleStream upgrades to a websocket and writes every event on the
// requested channel as JSON.
func (n *Node) handleStream(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		n.respondError(w, http.StatusBadRequest, "invalid_input", "channel is required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	events := make(chan ledger.EventView, streamBuffer)
	unsubscribe := n.Subscribe(channel, events)
	defer unsubscribe()

	n.logger.Info("Event stream opened", map[string]interface{}{"channel": channel})
	defer n.logger.Info("Event stream closed", map[string]interface{}{"channel": channel})

	// The read side only watches for the peer going away.
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
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
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

func (n *Node) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		n.logger.Error("json encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (n *Node) respondError(w http.ResponseWriter, status int, code, message string) {
	n.respondJSON(w, status, ledger.ErrorView{Message: message, ErrorCode: code})
}
