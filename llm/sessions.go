package llm

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// History is capped so a long-lived session cannot grow without bound;
// oldest turns are dropped first, the system prompt is always kept.
const maxSessionMessages = 100

var ErrSessionNotFound = errors.New("llm: session not found")

// Session owns the conversation history for one logical conversation.
// History is append-only, held in process memory and reset explicitly
// by deleting the session. Each session is isolated; nothing is shared
// between concurrent conversations.
type Session struct {
	ID           string        `json:"id"`
	SystemPrompt string        `json:"system_prompt"`
	Messages     []ChatMessage `json:"messages"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SessionStore hands out and tracks chat sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create opens a new session seeded with the given system prompt.
func (s *SessionStore) Create(systemPrompt string) *Session {
	now := time.Now().UTC()
	session := &Session{
		ID:           uuid.NewString(),
		SystemPrompt: strings.TrimSpace(systemPrompt),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// History returns the session transcript with the system prompt as the
// leading message, copied so callers cannot mutate stored state.
func (s *SessionStore) History(id string) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	history := make([]ChatMessage, 0, len(session.Messages)+1)
	if session.SystemPrompt != "" {
		history = append(history, ChatMessage{Role: "system", Content: session.SystemPrompt})
	}
	history = append(history, session.Messages...)
	return history, nil
}

// Append records new turns on the session.
func (s *SessionStore) Append(id string, messages ...ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	session.Messages = append(session.Messages, messages...)
	if overflow := len(session.Messages) - maxSessionMessages; overflow > 0 {
		session.Messages = append([]ChatMessage(nil), session.Messages[overflow:]...)
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// Snapshot returns a copy of the session record.
func (s *SessionStore) Snapshot(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	clone := *session
	clone.Messages = append([]ChatMessage(nil), session.Messages...)
	return clone, nil
}

// Delete resets the conversation by removing the session entirely.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}
