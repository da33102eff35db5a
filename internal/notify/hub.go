package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; the UI origin varies by dev setup.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the envelope pushed to every connected UI client.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Hub fans scan and import events out to websocket clients. Delivery is
// fire-and-forget: a slow or dead client is dropped, never waited on, so a
// stuck UI can never stall the scan pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  log.WithComponent("notify"),
	}
}

// ScanUpdate announces that an asset's scan state changed. The payload
// carries only the id; clients re-fetch the row over the API.
func (h *Hub) ScanUpdate(assetID int64) {
	h.broadcast("scan-update", map[string]int64{"asset_id": assetID})
}

// ImportProgress announces a completed bulk import with its counters.
func (h *Hub) ImportProgress(result *types.ImportResult) {
	h.broadcast("import-progress", result)
}

func (h *Hub) broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Warnw("Failed to marshal event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Buffer full: the client stopped draining. Drop it from the
			// write loop's side on the next cycle.
			go h.drop(c)
		}
	}
}

// ServeWS upgrades one HTTP request to a websocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debugw("Websocket client connected", "clients", count)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump exists only to detect disconnects; clients never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount reports current subscriber count, for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
