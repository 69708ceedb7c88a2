package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/transport"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Manager is the in-memory session registry. All state mutation goes through
// it; callers only ever see clones, so nothing races on a returned Session.
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

// SetExpireHook registers a callback run for each session the janitor closes.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a session under its resolved identity. The session ID is
// the caller's isolation key, not a fresh surrogate, so a duplicate key is an
// error rather than a silent replacement.
func (m *Manager) Create(id identity.Identity, kind transport.Kind) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:             id.SessionID,
		UserID:         id.UserID,
		Kind:           kind,
		State:          StateConnecting,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[s.ID]; ok && !existing.State.Terminal() {
		return nil, ErrExists
	}
	m.sessions[s.ID] = s
	return clone(s), nil
}

// AttachRelease associates transport teardown with a session so that expiry
// can reclaim resources even if the caller never joins. The func must be
// idempotent; the manager may call it on paths that race with lifecycle exit.
func (m *Manager) AttachRelease(sessionID string, release func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.release = release
	return nil
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

// SetState advances a session's state. Transitions out of a terminal state
// are ignored so late lifecycle writes cannot resurrect a closed session.
func (m *Manager) SetState(sessionID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State.Terminal() {
		return nil
	}
	s.State = state
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) RecordInterruption(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End closes a session and runs its transport teardown. Safe to call more
// than once; the second call finds a terminal session and does nothing.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	alreadyClosed := s.State.Terminal()
	s.State = StateClosed
	s.LastActivityAt = time.Now().UTC()
	release := s.release
	out := clone(s)
	m.mu.Unlock()

	if !alreadyClosed && release != nil {
		release()
	}
	return out, nil
}

// StartJanitor periodically closes sessions with no recent activity,
// releasing transports whose callers never joined or vanished silently.
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
		if !s.State.Terminal() {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session
	var releases []func()

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.State.Terminal() {
			delete(m.sessions, id)
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.State = StateClosed
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.release != nil {
			releases = append(releases, s.release)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, release := range releases {
		release()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.release = nil
	return &c
}
