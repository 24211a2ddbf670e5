package realtime

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// JoinChat registers interest in a room on the current connection, connecting
// first if necessary. Joining is what makes the server route that room's
// events here: a connected but unjoined client receives nothing for the room.
// A duplicate join is harmless; the server treats it as idempotent.
func (s *Service) JoinChat(ctx context.Context, chatID uuid.UUID) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[chatID] = true
	return s.emitLocked(EventJoinChat, RoomPayload{ChatID: chatID})
}

// LeaveChat emits a leave instruction, best-effort. The room is removed from
// the joined set immediately so a reconnect does not re-join it, even if the
// leave frame itself never reaches the server.
func (s *Service) LeaveChat(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, chatID)
	if err := s.emitLocked(EventLeaveChat, RoomPayload{ChatID: chatID}); err != nil {
		log.Printf("Realtime: leave_chat for %s not sent: %v", chatID, err)
	}
}

// Joined reports whether a room is in the joined set on this connection.
func (s *Service) Joined(chatID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[chatID]
}
