package conversation

import (
	"sync"
	"time"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// Session is one conversation: the retrieval history window and the display log.
// The two are independent; Reset clears both together.
type Session struct {
	id       string
	created  time.Time
	settings domain.GenerationSettings

	// inflight admits one question at a time.
	inflight sync.Mutex

	mu       sync.Mutex
	used     time.Time
	window   *Window
	messages []domain.Message
}

func newSession(id string, historyK int, now time.Time) *Session {
	return &Session{id: id, created: now, used: now, window: NewWindow(historyK)}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// Settings returns the model overrides chosen when the session was created.
func (s *Session) Settings() domain.GenerationSettings { return s.settings }

// LastUsed returns when the session was last looked up.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.used = now
	s.mu.Unlock()
}

// Begin claims the session for one question. Call the returned func when done.
func (s *Session) Begin() (func(), error) {
	if !s.inflight.TryLock() {
		return nil, domain.ErrSessionBusy
	}
	return s.inflight.Unlock, nil
}

// AppendTurn records a question/answer pair in the history window.
func (s *Session) AppendTurn(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.Append(domain.Turn{Question: question, Answer: answer})
}

// History returns the kept turns, oldest first.
func (s *Session) History() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Turns()
}

// AddMessage appends to the display log.
func (s *Session) AddMessage(role domain.Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, domain.Message{Role: role, Text: text})
}

// Messages returns a copy of the display log.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// ClearMessages empties the display log and keeps the history window.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Reset clears the display log and the history window together.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.window.Clear()
}

// Record appends the exchange to both the display log and the history window.
func (s *Session) Record(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages,
		domain.Message{Role: domain.RoleUser, Text: question},
		domain.Message{Role: domain.RoleAssistant, Text: answer},
	)
	s.window.Append(domain.Turn{Question: question, Answer: answer})
}
