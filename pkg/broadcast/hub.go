// Package broadcast fans live updates out to WebSocket viewers. Delivery is
// best effort: nothing is buffered for disconnected viewers and a viewer that
// cannot keep up loses messages rather than slowing the publisher.
package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
)

// Topics published by the server.
const (
	TopicSamples = "samples"
	TopicAlarms  = "alarms"
)

// Publisher publishes a value on a topic.
type Publisher interface {
	Publish(topic string, data interface{}) error
}

// Message is the envelope written to viewers.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outbound struct {
	topic   string
	payload []byte
}

type client struct {
	conn   *websocket.Conn
	topics map[string]bool
	send   chan []byte
}

func (c *client) wants(topic string) bool {
	return len(c.topics) == 0 || c.topics[topic]
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (non-browser clients like curl, testing tools)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Hub manages WebSocket viewers and fans published messages out to them.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan outbound

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan outbound, config.WSBroadcastBuffer),
	}
}

// Serve runs the hub's main loop until ctx ends.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.LiveViewers.Set(float64(count))
			logging.Debug().Int("viewers", count).Msg("websocket viewer connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.LiveViewers.Set(float64(count))
			logging.Debug().Int("viewers", count).Msg("websocket viewer disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// viewer too slow; drop for this viewer only
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) String() string {
	return "broadcast-hub"
}

// Publish encodes data and queues it for every viewer subscribed to topic.
// It never blocks: when the hub is saturated the message is dropped.
func (h *Hub) Publish(topic string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Message{Type: topic, Data: raw})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- outbound{topic: topic, payload: payload}:
	default:
		metrics.BroadcastDropped.Inc()
	}
	return nil
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams messages for the topics
// named in ?topic= (repeatable). No topic means all topics.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		topics: make(map[string]bool),
		send:   make(chan []byte, config.WSBroadcastBuffer),
	}
	for _, t := range r.URL.Query()["topic"] {
		c.topics[t] = true
	}

	h.register <- c

	go c.writeLoop()
	c.readLoop()
	h.unregister <- c
}

// writeLoop is the connection's only writer.
func (c *client) writeLoop() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop handles control frames and detects close.
func (c *client) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}
