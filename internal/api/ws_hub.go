package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradedesk/portfolio-engine/internal/metrics"
	"github.com/tradedesk/portfolio-engine/internal/portfolio"
)

// envelope is one queued broadcast: an owner-addressed (or global) payload.
type envelope struct {
	ownerID string
	data    []byte
}

// WSHub manages WebSocket connections and pushes portfolio updates. Each
// connection belongs to the owner that opened it; owner-addressed updates
// only reach that owner's connections.
type WSHub struct {
	clients    map[*websocket.Conn]string // conn → owner id
	broadcast  chan envelope
	register   chan client
	unregister chan *websocket.Conn
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

type client struct {
	conn    *websocket.Conn
	ownerID string
}

// NewWSHub creates a new WebSocket hub accepting upgrades from the given
// origins; none means any origin.
func NewWSHub(allowedOrigins []string) *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowedOrigins, origin)
			},
		},
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan envelope, 256),
		register:   make(chan client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.ownerID
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "owner", c.ownerID, "total", n)

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
			for conn, owner := range h.clients {
				if env.ownerID != "" && env.ownerID != owner {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, env.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return
		}
	}
}

// Stop closes every connection and ends Run.
func (h *WSHub) Stop() {
	close(h.done)
}

// Broadcast queues u for delivery. Updates are dropped when the buffer is
// full so order placement never blocks on slow clients.
func (h *WSHub) Broadcast(u portfolio.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- envelope{ownerID: u.OwnerID, data: data}:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- client{conn: conn, ownerID: owner}:
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
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
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
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
			}
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
