package devserver

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"parentlink-client/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// wsConn is one client connection to the devserver, with its per-connection
// joined-room set. A room's events are only routed to connections that have
// joined it, which is what the client's join-before-deliver property relies
// on.
type wsConn struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID

	mu     sync.Mutex
	joined map[uuid.UUID]bool
}

func newWSConn(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *wsConn {
	return &wsConn{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		joined: make(map[uuid.UUID]bool),
	}
}

func (c *wsConn) join(chatID uuid.UUID) {
	c.mu.Lock()
	c.joined[chatID] = true
	c.mu.Unlock()
}

func (c *wsConn) leave(chatID uuid.UUID) {
	c.mu.Lock()
	delete(c.joined, chatID)
	c.mu.Unlock()
}

func (c *wsConn) inRoom(chatID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[chatID]
}

// sendEvent queues one outbound frame, dropping it if the connection cannot
// keep up.
func (c *wsConn) sendEvent(eventType string, payload interface{}) {
	data, err := realtime.EncodeEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Devserver: user %s: encode %s: %v", c.userID, eventType, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Devserver: user %s: send queue full, dropping %s", c.userID, eventType)
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Devserver: user %s: read error: %v", c.userID, err)
			}
			return
		}

		var env realtime.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("Devserver: user %s: malformed frame: %v", c.userID, err)
			c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "invalid message format"})
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Devserver: user %s: write error: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
