package devserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"parentlink-client/internal/models"

	"github.com/google/uuid"
)

var (
	ErrEmailExists    = fmt.Errorf("email already exists")
	ErrUsernameExists = fmt.Errorf("username already exists")
	ErrUserNotFound   = fmt.Errorf("user not found")
	ErrChatNotFound   = fmt.Errorf("chat not found")
)

type chatRecord struct {
	ID           uuid.UUID
	Participants []uuid.UUID
	CreatedAt    time.Time
}

// Store is the devserver's in-memory backing state. It exists so the client
// can be run and integration-tested without external infrastructure; nothing
// survives a restart and that is fine for its purpose.
type Store struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*models.User
	emails    map[string]uuid.UUID
	usernames map[string]uuid.UUID
	chats     map[uuid.UUID]*chatRecord
	messages  map[uuid.UUID][]*models.ServerMessage
}

func NewStore() *Store {
	return &Store{
		users:     make(map[uuid.UUID]*models.User),
		emails:    make(map[string]uuid.UUID),
		usernames: make(map[string]uuid.UUID),
		chats:     make(map[uuid.UUID]*chatRecord),
		messages:  make(map[uuid.UUID][]*models.ServerMessage),
	}
}

func (s *Store) CreateUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := strings.ToLower(u.Email)
	if _, ok := s.emails[emailKey]; ok {
		return ErrEmailExists
	}
	usernameKey := strings.ToLower(u.Username)
	if _, ok := s.usernames[usernameKey]; ok {
		return ErrUsernameExists
	}

	s.users[u.ID] = u
	s.emails[emailKey] = u.ID
	s.usernames[usernameKey] = u.ID
	return nil
}

func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Store) SearchUsers(query string, limit int) []*models.PublicUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	out := make([]*models.PublicUser, 0)
	for _, u := range s.users {
		if query != "" && !strings.Contains(strings.ToLower(u.Username), query) {
			continue
		}
		out = append(out, u.ToPublicUser())
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// FindOrCreateChat returns the chat for an exact participant set, creating it
// on first use. Duplicate create requests for the same pair land on the same
// chat.
func (s *Store) FindOrCreateChat(participants []uuid.UUID) (*chatRecord, bool) {
	key := participantKey(participants)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chat := range s.chats {
		if participantKey(chat.Participants) == key {
			return chat, false
		}
	}

	chat := &chatRecord{
		ID:           uuid.New(),
		Participants: append([]uuid.UUID(nil), participants...),
		CreatedAt:    time.Now(),
	}
	s.chats[chat.ID] = chat
	return chat, true
}

func participantKey(ids []uuid.UUID) string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, id.String())
	}
	sort.Strings(ss)
	return strings.Join(ss, ",")
}

func (s *Store) IsParticipant(chatID, userID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return false
	}
	for _, p := range chat.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (s *Store) Participants(chatID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return append([]uuid.UUID(nil), chat.Participants...), nil
}

func (s *Store) ChatsForUser(userID uuid.UUID) []*models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Chat, 0)
	for _, chat := range s.chats {
		member := false
		for _, p := range chat.Participants {
			if p == userID {
				member = true
				break
			}
		}
		if !member {
			continue
		}

		summary := &models.Chat{ID: chat.ID, CreatedAt: chat.CreatedAt}
		for _, p := range chat.Participants {
			if p == userID {
				continue
			}
			if u, ok := s.users[p]; ok {
				summary.OtherParticipants = append(summary.OtherParticipants, u.ToPublicUser())
			}
		}
		if msgs := s.messages[chat.ID]; len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			summary.LastMessage = &last
			for _, m := range msgs {
				if m.SenderID != userID && !m.Read {
					summary.UnreadCount++
				}
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) AppendMessage(m *models.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[m.ChatID]; !ok {
		return ErrChatNotFound
	}
	s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	return nil
}

// MessagesPage returns one page, newest first, as copies so callers never
// observe concurrent read-flag updates mid-flight.
func (s *Store) MessagesPage(chatID uuid.UUID, limit, offset int) []*models.ServerMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[chatID]
	out := make([]*models.ServerMessage, 0, limit)
	for i := len(msgs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *msgs[i]
		out = append(out, &cp)
	}
	return out
}

// MarkRead flags the given messages as read and returns the IDs that
// actually changed.
func (s *Store) MarkRead(chatID uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []uuid.UUID
	for _, m := range s.messages[chatID] {
		if set[m.ID] && !m.Read {
			m.Read = true
			changed = append(changed, m.ID)
		}
	}
	return changed
}
