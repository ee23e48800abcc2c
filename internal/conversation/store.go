package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies which party produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchanged message. Turns are values and are never mutated
// after Append returns them.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the ordered, session-scoped conversation log.
type Store struct {
	mu     sync.RWMutex
	turns  []Turn
	closed bool
}

func NewStore() *Store {
	return &Store{}
}

// Append records a new turn at the end of the log and returns it. After
// Close the turn is still returned but not recorded.
func (s *Store) Append(role Role, content string) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return t
	}
	if n := len(s.turns); n > 0 && !t.CreatedAt.After(s.turns[n-1].CreatedAt) {
		// Keep timestamps monotonic even when the wall clock stalls.
		t.CreatedAt = s.turns[n-1].CreatedAt.Add(time.Nanosecond)
	}
	s.turns = append(s.turns, t)
	return t
}

// Turns returns a copy of the log in insertion order.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Last returns the most recent turn, if any.
func (s *Store) Last() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// Clear drops every turn.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Close drops every turn and stops recording new ones.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.closed = true
}
