package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryState indicates how far a locally visible message has progressed.
type DeliveryState string

const (
	// DeliveryPending means the message was created locally and the server
	// has not confirmed it yet.
	DeliveryPending DeliveryState = "pending"
	// DeliverySent means the server has persisted the message and assigned
	// its permanent ID.
	DeliverySent DeliveryState = "sent"
	// DeliveryFailed means the transport reported an error (or the
	// acknowledgement timed out) for this specific send.
	DeliveryFailed DeliveryState = "failed"
)

// Sender identifies the author of a message. Whether the author is the local
// user is resolved once, when the message is constructed, so rendering code
// never has to compare raw user IDs.
type Sender struct {
	IsLocal bool      `json:"isLocal"`
	UserID  uuid.UUID `json:"userId"`
}

// LocalSender tags a message as authored by the current user.
func LocalSender(userID uuid.UUID) Sender {
	return Sender{IsLocal: true, UserID: userID}
}

// RemoteSender tags a message as authored by another participant.
func RemoteSender(userID uuid.UUID) Sender {
	return Sender{IsLocal: false, UserID: userID}
}

// Message is one entry in a chat room's timeline.
//
// ID stays zero until the server confirms persistence. CorrelationID is a
// client-generated token that links a local optimistic entry to its later
// server acknowledgement; it is never used as the permanent identity.
type Message struct {
	ID            uuid.UUID     `json:"id,omitempty"`
	CorrelationID string        `json:"correlationId,omitempty"`
	ChatID        uuid.UUID     `json:"chatId"`
	Sender        Sender        `json:"sender"`
	Body          string        `json:"body"`
	Attachments   []string      `json:"attachments,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	Delivery      DeliveryState `json:"delivery"`
	Read          bool          `json:"read"`
}

// Confirmed reports whether the server has assigned this message its
// permanent identity.
func (m *Message) Confirmed() bool {
	return m.ID != uuid.Nil
}

// ServerMessage is a message as the backend represents it. The same shape is
// used on the REST history endpoint and inside realtime events.
type ServerMessage struct {
	ID          uuid.UUID   `json:"id"`
	ChatID      uuid.UUID   `json:"chatId"`
	SenderID    uuid.UUID   `json:"senderId"`
	Content     string      `json:"content"`
	Attachments []string    `json:"attachments,omitempty"`
	Timestamp   JSONTime    `json:"timestamp"`
	Read        bool        `json:"read"`
	Sender      *PublicUser `json:"sender,omitempty"`
}

// ToMessage converts the server representation into a timeline entry,
// resolving the sender tag against the current user exactly once.
func (sm *ServerMessage) ToMessage(currentUserID uuid.UUID) *Message {
	sender := RemoteSender(sm.SenderID)
	if sm.SenderID == currentUserID {
		sender = LocalSender(sm.SenderID)
	}
	return &Message{
		ID:          sm.ID,
		ChatID:      sm.ChatID,
		Sender:      sender,
		Body:        sm.Content,
		Attachments: sm.Attachments,
		CreatedAt:   sm.Timestamp.Time(),
		Delivery:    DeliverySent,
		Read:        sm.Read,
	}
}
