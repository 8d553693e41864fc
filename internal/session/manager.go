// Package session tracks the lifecycle of each mediated browser session.
// Sessions move through a small state machine; COMPROMISED and TERMINATED
// are absorbing, and a session in either rejects all further mutation.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the agent state of a session.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateObserving    State = "OBSERVING"
	StateActing       State = "ACTING"
	StateBlocked      State = "BLOCKED"
	StateCompromised  State = "COMPROMISED"
	StateTerminated   State = "TERMINATED"
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateCompromised || s == StateTerminated
}

// ErrTerminal is returned for any mutation of a session in a terminal state.
var ErrTerminal = errors.New("session is in a terminal state")

// ErrNotFound is returned when the session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is the per-session record. Fields are mutated only through the
// Manager.
type Session struct {
	ID           string     `json:"id"`
	OperatorID   string     `json:"operatorId,omitempty"`
	URL          string     `json:"url,omitempty"`
	State        State      `json:"state"`
	RiskScore    int        `json:"riskScore"`
	TrustScore   float64    `json:"trustScore"`
	Defcon       int        `json:"defcon"`
	ActionCount  int        `json:"actionCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	TerminatedAt *time.Time `json:"terminatedAt,omitempty"`
}

// Manager owns all session records. Safe for concurrent use; reads return
// copies.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewManager creates an empty session manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "session.Manager"),
	}
}

// Create registers a new session and returns it.
func (m *Manager) Create(operatorID string) Session {
	s := &Session{
		ID:         NewID(),
		OperatorID: operatorID,
		State:      StateInitializing,
		TrustScore: 75,
		Defcon:     1,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", s.ID, "operator", operatorID)
	return *s
}

// Get returns a copy of the session.
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return *s, nil
}

// List returns copies of all sessions.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Transition moves the session to a new state. Transitions out of a terminal
// state fail with ErrTerminal; moving into a terminal state stamps the
// termination time.
func (m *Manager) Transition(sessionID string, to State) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.State.Terminal() {
		return *s, fmt.Errorf("%w: %s is %s", ErrTerminal, sessionID, s.State)
	}

	from := s.State
	s.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		s.TerminatedAt = &now
	}

	m.logger.Info("session state change",
		"session_id", sessionID, "from", string(from), "to", string(to))
	return *s, nil
}

// Update applies fn to the session under the lock. Terminal sessions reject
// updates.
func (m *Manager) Update(sessionID string, fn func(*Session)) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.State.Terminal() {
		return *s, fmt.Errorf("%w: %s is %s", ErrTerminal, sessionID, s.State)
	}
	fn(s)
	return *s, nil
}

// Remove deletes the session record.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return "ses_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}
