package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	tomb "gopkg.in/tomb.v2"

	"github.com/atmx/arena-engine/internal/competition"
	"github.com/atmx/arena-engine/internal/leaderboard"
	"github.com/atmx/arena-engine/internal/metrics"
	"github.com/atmx/arena-engine/internal/model"
)

const (
	DefaultStreamInterval = time.Second

	clientBuffer = 16
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// StreamMessage is a JSON message sent to WebSocket clients.
type StreamMessage struct {
	Type          string              `json:"type"` // "update" or "trades"
	CompetitionID string              `json:"competition_id"`
	Timestamp     time.Time           `json:"timestamp"`
	OrderBook     *model.BookSnapshot `json:"orderbook,omitempty"`
	Leaderboard   []leaderboard.Entry `json:"leaderboard,omitempty"`
	Trades        []model.Trade       `json:"trades,omitempty"`
}

type client struct {
	conn          *websocket.Conn
	competitionID string
	send          chan []byte
}

// Hub streams competition state to WebSocket subscribers. Every interval it
// polls the order book snapshot and leaderboard of each competition that
// has subscribers and pushes them verbatim. A client whose buffer is full
// is dropped; the hub never blocks on a slow reader.
type Hub struct {
	registry *competition.Registry
	interval time.Duration

	mu     sync.RWMutex
	subs   map[string]map[*client]bool // by competition
	closed bool
}

// NewHub creates a hub polling reg every interval (DefaultStreamInterval
// when interval <= 0).
func NewHub(reg *competition.Registry, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &Hub{
		registry: reg,
		interval: interval,
		subs:     make(map[string]map[*client]bool),
	}
}

// Run is the hub's poll loop. It returns when t starts dying, after
// closing every client.
func (h *Hub) Run(t *tomb.Tomb) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			metrics.ActiveCompetitions.Set(float64(h.registry.Active()))
			for _, id := range h.subscribed() {
				h.pushUpdate(id)
			}
		}
	}
}

// PublishTrades pushes freshly matched trades to the competition's
// subscribers ahead of the next poll.
func (h *Hub) PublishTrades(competitionID string, trades []model.Trade) {
	h.publish(competitionID, StreamMessage{
		Type:          "trades",
		CompetitionID: competitionID,
		Timestamp:     time.Now().UTC(),
		Trades:        trades,
	})
}

// Subscribers counts clients of a competition.
func (h *Hub) Subscribers(competitionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[competitionID])
}

func (h *Hub) pushUpdate(competitionID string) {
	comp, err := h.registry.Get(competitionID)
	if err != nil {
		return
	}
	snap, err := comp.Snapshot(0)
	if err != nil {
		slog.Warn("stream snapshot failed", "competition", competitionID, "err", err)
		return
	}
	board, err := comp.Leaderboard()
	if err != nil {
		slog.Warn("stream leaderboard failed", "competition", competitionID, "err", err)
		return
	}
	h.publish(competitionID, StreamMessage{
		Type:          "update",
		CompetitionID: competitionID,
		Timestamp:     time.Now().UTC(),
		OrderBook:     &snap,
		Leaderboard:   board,
	})
}

func (h *Hub) publish(competitionID string, msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("stream encode failed", "competition", competitionID, "err", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.subs[competitionID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws client too slow, dropping", "competition", competitionID)
		h.remove(c)
	}
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) subscribed() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id, clients := range h.subs {
		if len(clients) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// add registers c, or reports false once the hub has shut down.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.subs[c.competitionID] == nil {
		h.subs[c.competitionID] = make(map[*client]bool)
	}
	h.subs[c.competitionID][c] = true
	metrics.WebSocketClients.Inc()
	slog.Info("ws client connected", "competition", c.competitionID, "total", len(h.subs[c.competitionID]))
	return true
}

// remove unregisters c and closes its send channel. Safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.subs[c.competitionID]
	if !clients[c] {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.subs, c.competitionID)
	}
	close(c.send)
	metrics.WebSocketClients.Dec()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, clients := range h.subs {
		for c := range clients {
			close(c.send)
			metrics.WebSocketClients.Dec()
		}
		delete(h.subs, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at
// GET /api/v1/competitions/{competitionID}/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "competitionID")
	if _, err := h.registry.Get(id); err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if h.isClosed() {
		writeError(w, "stream hub is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, competitionID: id, send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		// Shut down between the check above and the upgrade.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go h.writePump(c)

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer h.remove(c)
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
}

// writePump owns all writes to c.conn. It exits when the send channel is
// closed or a write fails.
func (h *Hub) writePump(c *client) {
	// Ping ticker to keep connection alive through proxies.
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
