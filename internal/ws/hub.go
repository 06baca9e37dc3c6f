// Package ws broadcasts submission status transitions to connected dashboard
// clients over websockets.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StatusEvent is one submission status transition pushed to clients.
type StatusEvent struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Stage        string `json:"stage,omitempty"`
	At           string `json:"at"`
}

type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run owns the client set. It exits when stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("websocket client connected", "total", total)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("websocket client disconnected", "total", total)
			}

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					if h.logger != nil {
						h.logger.Warn("websocket write failed, dropping client", "error", err)
					}
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()

		case <-stop:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Notify satisfies the pipeline's notifier hook. It never blocks: when the
// broadcast buffer is full the event is dropped.
func (h *Hub) Notify(submissionID, status, stage string) {
	event := StatusEvent{
		SubmissionID: submissionID,
		Status:       status,
		Stage:        stage,
		At:           time.Now().UTC().Format(time.RFC3339),
	}
	msg, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("websocket broadcast buffer full, dropping event",
				"submission_id", submissionID, "status", status)
		}
	}
}

// ServeHTTP upgrades the request and parks a reader that detects the close.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
