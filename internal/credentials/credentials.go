package credentials

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token claim set shared with the backend. The user ID travels
// as a string inside the token.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Store holds the bearer credential for the current session. The messaging
// core reads it but does not own it: it is populated after login and cleared
// at logout. When no credential is present the realtime layer refuses to
// connect and callers fall back to REST-only behavior.
type Store struct {
	mu        sync.RWMutex
	token     string
	userID    uuid.UUID
	expiresAt time.Time
}

func NewStore() *Store {
	return &Store{}
}

// SetToken stores a bearer token and derives the user identity from its
// claims. The signature is deliberately not verified here: the client never
// holds the signing secret, and the server re-validates the token on every
// request anyway.
func (s *Store) SetToken(token string) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("credentials: cannot parse token: %w", err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return fmt.Errorf("credentials: token carries invalid user_id %q: %w", claims.UserID, err)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.token = token
	s.userID = userID
	s.expiresAt = expiresAt
	s.mu.Unlock()
	return nil
}

// Token returns the raw bearer token, or "" when none is stored.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the identity derived from the stored token, or uuid.Nil.
func (s *Store) UserID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// HasCredential reports whether a usable (present and unexpired) token is
// stored.
func (s *Store) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		return false
	}
	return true
}

// Clear drops the stored credential. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.userID = uuid.Nil
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}
