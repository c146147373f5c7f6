// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// LiveFeedClient is one connected websocket consumer of the live stream.
type LiveFeedClient struct {
	conn          *websocket.Conn
	send          chan []byte
	natsConn      *nats.Conn
	subscriptions []*nats.Subscription
	closeOnce     sync.Once
	mu            sync.Mutex
	closed        bool
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 1024 * 1024, // 1MB
	}
}

// WebSocketUpgrader is used to upgrade HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// LiveFeedHandler upgrades the connection and bridges the processed-post,
// alert and trend-cycle subjects onto it. Clients are read-only consumers;
// the write path into the engine stays the NATS raw topic.
func LiveFeedHandler(natsConn *nats.Conn, processedTopic, alertsTopic, cycleTopic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to upgrade to WebSocket")
			return
		}

		client := &LiveFeedClient{
			conn:     conn,
			send:     make(chan []byte, 256),
			natsConn: natsConn,
		}

		topics := []string{processedTopic, alertsTopic, cycleTopic}
		if err := client.subscribe(topics); err != nil {
			log.Warn().Err(err).Msg("Failed to subscribe live feed client")
			client.closeConnection()
			return
		}

		welcome := map[string]interface{}{
			"type":   "welcome",
			"topics": topics,
			"time":   time.Now(),
		}
		welcomeJSON, _ := json.Marshal(welcome)
		client.send <- welcomeJSON

		go client.writePump()
		go client.readPump()

		log.Debug().Str("remote", r.RemoteAddr).Msg("New live feed connection")
	}
}

// readPump drains the connection so pings and close frames are handled.
// Inbound payloads are ignored; the feed is one-way.
func (c *LiveFeedClient) readPump() {
	config := DefaultWebSocketConfig()

	defer func() {
		c.closeConnection()
	}()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			break
		}
	}
}

// writePump pumps queued events to the WebSocket connection
func (c *LiveFeedClient) writePump() {
	config := DefaultWebSocketConfig()
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued events to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscribe bridges the given NATS subjects into the send queue.
func (c *LiveFeedClient) subscribe(topics []string) error {
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		sub, err := c.natsConn.Subscribe(topic, func(msg *nats.Msg) {
			c.enqueue(msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.subscriptions = append(c.subscriptions, sub)
	}
	return nil
}

// enqueue delivers one bridged event, dropping it if the client is closed
// or the queue is full.
func (c *LiveFeedClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer; drop rather than block the bus.
	}
}

// closeConnection closes the WebSocket connection and cleans up resources.
// Unsubscribe does not wait for an in-flight callback, so the send queue is
// closed under the same lock enqueue takes.
func (c *LiveFeedClient) closeConnection() {
	c.closeOnce.Do(func() {
		for _, sub := range c.subscriptions {
			sub.Unsubscribe()
		}
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}
