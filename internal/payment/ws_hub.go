package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/atmx/stockpay/internal/metrics"
	"github.com/atmx/stockpay/internal/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type          string        `json:"type"`
	SessionID     string        `json:"session_id"`
	State         session.State `json:"state"`
	PlanID        string        `json:"plan_id,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Total         string        `json:"total,omitempty"`
}

// wsSubscriber is a client connection and the session it follows.
type wsSubscriber struct {
	conn      *websocket.Conn
	sessionID string
}

// wsEnvelope is an encoded message addressed to one session's clients.
type wsEnvelope struct {
	sessionID string
	data      []byte
}

// WSHub fans session events out to the WebSocket clients subscribed to
// that session. It implements session.Notifier.
type WSHub struct {
	clients    map[*websocket.Conn]string // conn -> session ID
	broadcast  chan wsEnvelope
	register   chan wsSubscriber
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan wsEnvelope, 256),
		register:   make(chan wsSubscriber),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and blocks until ctx is cancelled, then
// closes every client connection.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub.sessionID
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			log.Debug().Str("session", sub.sessionID).Int("total", n).Msg("ws client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case env := <-h.broadcast:
			h.mu.Lock()
			for conn, sessionID := range h.clients {
				if sessionID != env.sessionID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, env.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify publishes a session event to the clients following that session.
func (h *WSHub) Notify(ev session.Event) {
	msg := WSMessage{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		State:     ev.State,
		PlanID:    ev.PlanID,
	}
	if ev.Record != nil {
		msg.TransactionID = ev.Record.ID
		msg.Total = ev.Record.Total.String()
	}
	h.Broadcast(msg)
}

// Broadcast sends a message to the clients subscribed to msg.SessionID.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- wsEnvelope{sessionID: msg.SessionID, data: data}:
	default:
		// Drop if buffer full; settlement must not wait on slow clients.
		log.Warn().Str("type", msg.Type).Msg("ws broadcast buffer full, dropping message")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS is enforced by the router.
	},
}

// HandleWS handles WebSocket upgrade requests at
// GET /api/v1/ws?session={id}. Clients only receive that session's events.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, "session query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	select {
	case h.register <- wsSubscriber{conn: conn, sessionID: sessionID}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
