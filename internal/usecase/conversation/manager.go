package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// Manager owns the live sessions of the process.
type Manager struct {
	historyK int
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager; every session keeps historyK turns.
func NewManager(historyK int) *Manager {
	return &Manager{
		historyK: historyK,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with the process-wide model settings.
func (m *Manager) Create() *Session {
	s, _ := m.CreateWith(domain.GenerationSettings{})
	return s
}

// CreateWith starts a new session whose answers use settings.
func (m *Manager) CreateWith(settings domain.GenerationSettings) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	s := newSession(uuid.NewString(), m.historyK, m.now())
	s.settings = settings
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session with id and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Reset clears one session.
func (m *Manager) Reset(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// ResetAll clears every session and returns how many were reset.
func (m *Manager) ResetAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.Reset()
	}
	return len(m.sessions)
}

// Delete forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Evict forgets sessions unused for longer than idle and returns how many went.
// A session with a question in flight is kept.
func (m *Manager) Evict(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !s.LastUsed().Before(cutoff) {
			continue
		}
		if !s.inflight.TryLock() {
			continue
		}
		delete(m.sessions, id)
		s.inflight.Unlock()
		n++
	}
	return n
}
