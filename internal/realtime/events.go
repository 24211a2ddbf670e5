package realtime

import (
	"encoding/json"
	"fmt"

	"parentlink-client/internal/models"

	"github.com/google/uuid"
)

// Event names understood by the realtime channel. Outbound and inbound
// directions intentionally reuse names where the payload shape is shared
// (new_message, typing_start, typing_stop).
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventNewMessage     = "new_message"
	EventMessageSentAck = "message_sent_ack"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventMarkRead       = "mark_read"
	EventMessagesRead   = "messages_read"
	EventError          = "error"
)

// Envelope is the wire format for every realtime frame. The Type field
// determines how Payload is decoded; each event category has its own payload
// struct rather than one loosely typed map.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEnvelope marshals an outbound frame.
func EncodeEnvelope(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return data, nil
}

// RoomPayload scopes join_chat and leave_chat instructions to one room.
type RoomPayload struct {
	ChatID uuid.UUID `json:"chatId"`
}

// NewMessagePayload is the outbound shape of a message send. CorrelationID is
// generated by the client at send time and echoed back in the acknowledgement;
// it never becomes the message's permanent identity.
type NewMessagePayload struct {
	ChatID        uuid.UUID `json:"chatId"`
	Content       string    `json:"content"`
	Attachments   []string  `json:"attachments,omitempty"`
	CorrelationID string    `json:"correlationId"`
}

// MessageSentAckPayload confirms that the server persisted a message sent
// from this client, carrying the permanent ID and the authoritative
// timestamp.
type MessageSentAckPayload struct {
	ChatID        uuid.UUID       `json:"chatId"`
	ServerMsgID   uuid.UUID       `json:"serverMsgId"`
	Timestamp     models.JSONTime `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
}

// InboundMessagePayload delivers a message authored by another participant in
// a joined room. It has no correlation ID because it did not originate here.
type InboundMessagePayload struct {
	ChatID  uuid.UUID            `json:"chatId"`
	Message models.ServerMessage `json:"message"`
	Sender  *models.PublicUser   `json:"sender,omitempty"`
}

// TypingPayload signals typing_start / typing_stop for one room.
type TypingPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	UserID uuid.UUID `json:"userId"`
}

// MarkReadPayload is both the outbound read-receipt batch and the inbound
// messages_read broadcast.
type MarkReadPayload struct {
	ChatID     uuid.UUID   `json:"chatId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
}

// ErrorPayload carries a server-side error description.
type ErrorPayload struct {
	Message string `json:"message"`
}
