package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat summarizes one conversation as returned by the REST backend.
type Chat struct {
	ID                uuid.UUID      `json:"id"`
	CreatedAt         time.Time      `json:"createdAt"`
	OtherParticipants []*PublicUser  `json:"otherParticipants,omitempty"`
	LastMessage       *ServerMessage `json:"lastMessage,omitempty"`
	UnreadCount       int            `json:"unreadCount,omitempty"`
}

// ChatRoom describes one open conversation from the local user's point of
// view. It is ephemeral state scoped to the lifetime of an open chat screen.
type ChatRoom struct {
	ChatID        uuid.UUID
	PeerID        uuid.UUID
	CurrentUserID uuid.UUID
}

// CreateChatRequest is the payload for looking up or creating a conversation
// by its participant pair.
type CreateChatRequest struct {
	ParticipantIDs []uuid.UUID `json:"participantIds" binding:"required,min=1"`
}
