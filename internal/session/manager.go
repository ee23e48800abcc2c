package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/plantdoc/internal/agent"
	"github.com/ent0n29/plantdoc/internal/conversation"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrEnded          = errors.New("session ended")
	ErrNotInitialized = errors.New("agent not initialized")
	ErrBusy           = errors.New("a request is already in flight for this session")
)

// AgentFactory performs the one-time agent handshake for a credential.
type AgentFactory func(ctx context.Context, credential string) (agent.Agent, error)

// Session is a point-in-time view of a session. The credential is never
// part of it.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	Initialized    bool      `json:"initialized"`
	Busy           bool      `json:"busy"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// state is the session context: everything one interactive session owns.
type state struct {
	id             string
	status         Status
	credential     string
	agent          agent.Agent
	conversation   *conversation.Store
	busy           bool
	startedAt      time.Time
	lastActivityAt time.Time
}

func (s *state) snapshot() *Session {
	return &Session{
		ID:             s.id,
		Status:         s.status,
		Initialized:    s.agent != nil,
		Busy:           s.busy,
		TurnCount:      s.conversation.Len(),
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// release drops everything a session holds in memory. The old log is
// closed rather than cleared so a request still in flight cannot write into
// it once the session has ended.
func (s *state) release() {
	s.status = StatusEnded
	s.credential = ""
	s.agent = nil
	s.busy = false
	s.conversation.Close()
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*state
	factory           AgentFactory
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, factory AgentFactory) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*state),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
		endedRetention:    5 * time.Minute,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetEndedRetention controls how long ended sessions stay queryable before
// the janitor forgets them.
func (m *Manager) SetEndedRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.endedRetention = d
	}
}

func (m *Manager) Create() *Session {
	now := time.Now().UTC()
	s := &state{
		id:             uuid.NewString(),
		status:         StatusActive,
		conversation:   conversation.NewStore(),
		startedAt:      now,
		lastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
	return s.snapshot()
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshot(), nil
}

// Initialize stores the credential in memory and runs the agent handshake.
// Re-initializing replaces the agent but keeps the conversation log.
func (m *Manager) Initialize(ctx context.Context, sessionID, credential string) (*Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, agent.ErrMissingCredential
	}
	if _, err := m.active(sessionID); err != nil {
		return nil, err
	}
	if m.factory == nil {
		return nil, errors.New("agent factory not configured")
	}

	a, err := m.factory(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("initialize agent: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.status != StatusActive {
		return nil, ErrEnded
	}
	if s.busy {
		return nil, ErrBusy
	}
	s.credential = credential
	s.agent = a
	s.lastActivityAt = time.Now().UTC()
	return s.snapshot(), nil
}

// Begin claims the session's single request slot. The returned release
// func must be called once the request has finished.
func (m *Manager) Begin(sessionID string) (agent.Agent, *conversation.Store, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, nil, ErrNotFound
	}
	if s.status != StatusActive {
		return nil, nil, nil, ErrEnded
	}
	if s.agent == nil {
		return nil, nil, nil, ErrNotInitialized
	}
	if s.busy {
		return nil, nil, nil, ErrBusy
	}
	s.busy = true
	s.lastActivityAt = time.Now().UTC()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			s.busy = false
			s.lastActivityAt = time.Now().UTC()
		})
	}
	return s.agent, s.conversation, release, nil
}

// Conversation returns the session's conversation log.
func (m *Manager) Conversation(sessionID string) (*conversation.Store, error) {
	s, err := m.active(sessionID)
	if err != nil {
		return nil, err
	}
	return s.conversation, nil
}

// ClearConversation empties the log. It is refused while a request is in flight.
func (m *Manager) ClearConversation(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.status != StatusActive {
		return ErrEnded
	}
	if s.busy {
		return ErrBusy
	}
	s.conversation.Clear()
	s.lastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// End destroys the session context: credential, agent and log are dropped.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.release()
	s.lastActivityAt = time.Now().UTC()
	return s.snapshot(), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) active(sessionID string) (*state, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.status != StatusActive {
		return nil, ErrEnded
	}
	return s, nil
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.status != StatusActive {
			if now.Sub(s.lastActivityAt) >= m.endedRetention {
				delete(m.sessions, id)
			}
			continue
		}
		// A request in flight has no local timeout; never expire under it.
		if s.busy || now.Sub(s.lastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.release()
		s.lastActivityAt = now
		expired = append(expired, s.snapshot())
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}
