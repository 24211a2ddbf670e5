package devserver

import (
	"testing"
	"time"

	"parentlink-client/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Store, username string) *models.User {
	t.Helper()
	u := &models.User{
		ID:        uuid.New(),
		Username:  username,
		Email:     username + "@example.com",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateUser(u))
	return u
}

func seedMessage(t *testing.T, s *Store, chatID, senderID uuid.UUID, content string) *models.ServerMessage {
	t.Helper()
	m := &models.ServerMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: models.JSONTime(time.Now()),
	}
	require.NoError(t, s.AppendMessage(m))
	return m
}

func TestCreateUserUniqueness(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "maria")

	dupEmail := &models.User{ID: uuid.New(), Username: "other", Email: "MARIA@example.com"}
	assert.ErrorIs(t, s.CreateUser(dupEmail), ErrEmailExists)

	dupName := &models.User{ID: uuid.New(), Username: "Maria", Email: "new@example.com"}
	assert.ErrorIs(t, s.CreateUser(dupName), ErrUsernameExists)
}

func TestFindOrCreateChatKeyedBySet(t *testing.T) {
	s := NewStore()
	a, b := uuid.New(), uuid.New()

	first, created := s.FindOrCreateChat([]uuid.UUID{a, b})
	assert.True(t, created)

	// Order of the participant list does not matter.
	second, created := s.FindOrCreateChat([]uuid.UUID{b, a})
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other, created := s.FindOrCreateChat([]uuid.UUID{a, uuid.New()})
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestMessagesPageNewestFirst(t *testing.T) {
	s := NewStore()
	a, b := seedUser(t, s, "maria"), seedUser(t, s, "jonas")
	chat, _ := s.FindOrCreateChat([]uuid.UUID{a.ID, b.ID})

	for _, body := range []string{"one", "two", "three", "four", "five"} {
		seedMessage(t, s, chat.ID, a.ID, body)
	}

	page := s.MessagesPage(chat.ID, 2, 0)
	require.Len(t, page, 2)
	assert.Equal(t, "five", page[0].Content)
	assert.Equal(t, "four", page[1].Content)

	page = s.MessagesPage(chat.ID, 2, 4)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)

	assert.Empty(t, s.MessagesPage(chat.ID, 2, 10))
}

func TestMessagesPageReturnsCopies(t *testing.T) {
	s := NewStore()
	a, b := seedUser(t, s, "maria"), seedUser(t, s, "jonas")
	chat, _ := s.FindOrCreateChat([]uuid.UUID{a.ID, b.ID})
	seedMessage(t, s, chat.ID, a.ID, "hello")

	page := s.MessagesPage(chat.ID, 10, 0)
	page[0].Read = true

	fresh := s.MessagesPage(chat.ID, 10, 0)
	assert.False(t, fresh[0].Read, "mutating a page must not touch stored state")
}

func TestMarkReadReportsOnlyTransitions(t *testing.T) {
	s := NewStore()
	a, b := seedUser(t, s, "maria"), seedUser(t, s, "jonas")
	chat, _ := s.FindOrCreateChat([]uuid.UUID{a.ID, b.ID})
	first := seedMessage(t, s, chat.ID, a.ID, "one")
	second := seedMessage(t, s, chat.ID, a.ID, "two")

	changed := s.MarkRead(chat.ID, []uuid.UUID{first.ID, second.ID, uuid.New()})
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, changed)

	// Second pass over already-read messages is a no-op.
	assert.Empty(t, s.MarkRead(chat.ID, []uuid.UUID{first.ID, second.ID}))
}

func TestChatsForUserSummaries(t *testing.T) {
	s := NewStore()
	maria, jonas := seedUser(t, s, "maria"), seedUser(t, s, "jonas")
	chat, _ := s.FindOrCreateChat([]uuid.UUID{maria.ID, jonas.ID})
	seedMessage(t, s, chat.ID, jonas.ID, "first")
	last := seedMessage(t, s, chat.ID, jonas.ID, "second")

	chats := s.ChatsForUser(maria.ID)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
	require.Len(t, chats[0].OtherParticipants, 1)
	assert.Equal(t, "jonas", chats[0].OtherParticipants[0].Username)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, last.ID, chats[0].LastMessage.ID)
	assert.Equal(t, 2, chats[0].UnreadCount)

	// The sender sees no unread count for their own messages.
	own := s.ChatsForUser(jonas.ID)
	require.Len(t, own, 1)
	assert.Equal(t, 0, own[0].UnreadCount)

	assert.Empty(t, s.ChatsForUser(uuid.New()))
}
