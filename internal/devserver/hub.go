package devserver

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"parentlink-client/internal/models"
	"parentlink-client/internal/realtime"

	"github.com/google/uuid"
)

// Hub routes realtime frames between connected clients. Events are scoped to
// rooms: a frame for a chat only reaches connections that joined that chat
// and whose user is a participant.
type Hub struct {
	store *Store

	mu    sync.RWMutex
	conns map[*wsConn]bool
}

func NewHub(store *Store) *Hub {
	return &Hub{
		store: store,
		conns: make(map[*wsConn]bool),
	}
}

func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = true
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("Devserver Hub: user %s connected. Total connections: %d", c.userID, total)
}

func (h *Hub) unregister(c *wsConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		close(c.send)
		delete(h.conns, c)
	}
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("Devserver Hub: user %s disconnected. Total connections: %d", c.userID, total)
}

func (h *Hub) handle(c *wsConn, env realtime.Envelope) {
	switch env.Type {
	case realtime.EventJoinChat:
		var p realtime.RoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "invalid join_chat payload"})
			return
		}
		if !h.store.IsParticipant(p.ChatID, c.userID) {
			c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "not a participant of this chat"})
			return
		}
		c.join(p.ChatID)
		log.Printf("Devserver Hub: user %s joined chat %s", c.userID, p.ChatID)

	case realtime.EventLeaveChat:
		var p realtime.RoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.leave(p.ChatID)
		log.Printf("Devserver Hub: user %s left chat %s", c.userID, p.ChatID)

	case realtime.EventNewMessage:
		h.handleNewMessage(c, env.Payload)

	case realtime.EventTypingStart, realtime.EventTypingStop:
		h.handleTyping(c, env.Type, env.Payload)

	case realtime.EventMarkRead:
		h.handleMarkRead(c, env.Payload)

	default:
		log.Printf("Devserver Hub: user %s sent unknown event %q", c.userID, env.Type)
		c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "unknown event type"})
	}
}

// handleNewMessage persists the message, acks the sender with the permanent
// ID and the original correlation ID, and fans the message out to the other
// participants' joined connections.
func (h *Hub) handleNewMessage(c *wsConn, raw json.RawMessage) {
	var p realtime.NewMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "invalid new_message payload"})
		return
	}
	if !h.store.IsParticipant(p.ChatID, c.userID) {
		c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "not a participant of this chat"})
		return
	}

	msg := &models.ServerMessage{
		ID:          uuid.New(),
		ChatID:      p.ChatID,
		SenderID:    c.userID,
		Content:     p.Content,
		Attachments: p.Attachments,
		Timestamp:   models.JSONTime(time.Now()),
	}
	if err := h.store.AppendMessage(msg); err != nil {
		c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "failed to store message"})
		return
	}

	c.sendEvent(realtime.EventMessageSentAck, realtime.MessageSentAckPayload{
		ChatID:        p.ChatID,
		ServerMsgID:   msg.ID,
		Timestamp:     msg.Timestamp,
		CorrelationID: p.CorrelationID,
	})

	var sender *models.PublicUser
	if u, err := h.store.GetUserByID(c.userID); err == nil {
		sender = u.ToPublicUser()
	}
	h.broadcastToRoom(p.ChatID, c, realtime.EventNewMessage, realtime.InboundMessagePayload{
		ChatID:  p.ChatID,
		Message: *msg,
		Sender:  sender,
	})
}

func (h *Hub) handleTyping(c *wsConn, eventType string, raw json.RawMessage) {
	var p realtime.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	// The sender's identity comes from the connection, not the payload.
	p.UserID = c.userID
	if !c.inRoom(p.ChatID) {
		return
	}
	h.broadcastToRoom(p.ChatID, c, eventType, p)
}

func (h *Hub) handleMarkRead(c *wsConn, raw json.RawMessage) {
	var p realtime.MarkReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendEvent(realtime.EventError, realtime.ErrorPayload{Message: "invalid mark_read payload"})
		return
	}
	if !h.store.IsParticipant(p.ChatID, c.userID) {
		return
	}

	changed := h.store.MarkRead(p.ChatID, p.MessageIDs)
	if len(changed) == 0 {
		return
	}
	h.broadcastToRoom(p.ChatID, c, realtime.EventMessagesRead, realtime.MarkReadPayload{
		ChatID:     p.ChatID,
		MessageIDs: changed,
	})
}

// broadcastToRoom delivers an event to every connection that joined the room,
// except the originator.
func (h *Hub) broadcastToRoom(chatID uuid.UUID, origin *wsConn, eventType string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		if conn == origin {
			continue
		}
		if !conn.inRoom(chatID) {
			continue
		}
		conn.sendEvent(eventType, payload)
	}
}
