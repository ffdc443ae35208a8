package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// ErrAlreadyAttached marks an attempt to bind a second transport to a
// session whose websocket is still connected.
var ErrAlreadyAttached = errors.New("session transport already attached")

// Session is a snapshot of one learner's tutoring session. The transport,
// recognition, and synthesis handles are owned exclusively by the
// orchestrator driving the session; the manager tracks lifecycle metadata.
type Session struct {
	ID             string    `json:"session_id"`
	LearnerID      string    `json:"learner_id"`
	State          State     `json:"state"`
	PersonaID      string    `json:"persona_id"`
	VoiceID        string    `json:"voice_id"`
	Degraded       bool      `json:"degraded"`
	BargeIns       int       `json:"barge_ins"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// attached reports whether a websocket currently drives this session.
	// A session owns at most one transport at a time.
	attached bool
}

// Manager owns all live sessions. Every state transition goes through its
// lock, which gives the single-writer discipline the lifecycle needs: a late
// transcript and a concurrent barge-in cannot race each other.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(learnerID, personaID, voiceID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		LearnerID:      learnerID,
		PersonaID:      personaID,
		VoiceID:        voiceID,
		State:          StateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Transition moves a session to the requested state, enforcing the
// lifecycle table. Terminal states reject everything.
func (m *Manager) Transition(sessionID string, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// StateOf returns the current state without cloning the whole session.
func (m *Manager) StateOf(sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return s.State, nil
}

// MarkDegraded flips the session-scoped degraded flag after repeated
// engine failure. It never clears within a session.
func (m *Manager) MarkDegraded(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Degraded = true
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordBargeIn counts a barge-in interruption.
func (m *Manager) RecordBargeIn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.BargeIns++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Attach claims the session's transport slot for one websocket connection.
// It fails with ErrAlreadyAttached while another connection holds it.
func (m *Manager) Attach(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.attached {
		return ErrAlreadyAttached
	}
	s.attached = true
	return nil
}

// Detach releases the transport slot on disconnect. Safe to call on a
// session that was never attached or no longer exists.
func (m *Manager) Detach(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.attached = false
	}
}

// Close ends a session unconditionally (explicit disconnect, teardown,
// or fatal error already recorded). Close on a closed session is a no-op.
func (m *Manager) Close(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != StateClosed {
		s.State = StateClosed
		s.LastActivityAt = time.Now().UTC()
	}
	return clone(s), nil
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
		if !IsTerminal(s.State) {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if IsTerminal(s.State) {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.State = StateClosed
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
