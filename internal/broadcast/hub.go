package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"farmstats/internal/metrics"
	"farmstats/internal/pool"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub pushes pool stats to connected dashboard clients and keeps the most
// recent result per pool.
type Hub struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string]*pool.Result
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics: m,
		clients: make(map[*client]struct{}),
		latest:  make(map[string]*pool.Result),
	}
}

// Publish stores the result as the latest for its pool and sends it to every
// client. Clients whose buffer is full are disconnected.
func (h *Hub) Publish(result *pool.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("pool", result.Key).Msg("Failed to encode pool stats")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[result.Key] = result
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Msg("Dashboard client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

// Latest returns the most recent result of every pool, ordered by key.
func (h *Hub) Latest() []*pool.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]*pool.Result, 0, len(h.latest))
	for _, r := range h.latest {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams results to it.
// The latest known results are sent immediately on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	for _, result := range h.latest {
		if data, err := json.Marshal(result); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	h.updateClientsLocked()
	h.mu.Unlock()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Dashboard client connected")

	go h.writePump(c)
	h.readPump(c)
}

// StatsHandler serves the latest results as a JSON array.
func (h *Hub) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Latest()); err != nil {
			log.Warn().Err(err).Msg("Failed to write stats response")
		}
	})
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	return ctx.Err()
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Dashboard client read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.updateClientsLocked()
}

func (h *Hub) updateClientsLocked() {
	if h.metrics != nil {
		h.metrics.SetDashboardClients(len(h.clients))
	}
}
