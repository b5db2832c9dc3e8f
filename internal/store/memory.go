package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"portfolio-chat-backend/internal/content"
	"portfolio-chat-backend/internal/dialogue"
)

type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Kind    string    `json:"kind,omitempty"`
	Topic   string    `json:"topic,omitempty"`
	At      time.Time `json:"at"`
}

// Session is everything the site remembers about one visitor. Fields are
// only touched inside MemoryStore.WithSession.
type Session struct {
	ID              string
	Dialogue        dialogue.State
	Cycler          content.Cycler
	RecentFallbacks []int
	Theme           string
	Messages        []Message
	CreatedAt       time.Time
	LastActivity    time.Time

	mu sync.Mutex
	// dropped is set under mu once the session left the store.
	dropped bool
}

// MemoryStore keeps visitor sessions in process memory. Each session has its
// own lock so visitors never wait on each other.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxMessages int
	now         func() time.Time
}

func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (m *MemoryStore) session(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	now := m.now()
	s = &Session{ID: id, CreatedAt: now, LastActivity: now}
	m.sessions[id] = s
	return s
}

// acquire returns the live session for id, locked. A session evicted or reset
// between lookup and locking is skipped and looked up again.
func (m *MemoryStore) acquire(id string) *Session {
	for {
		s := m.session(id)
		s.mu.Lock()
		if !s.dropped {
			return s
		}
		s.mu.Unlock()
	}
}

// WithSession runs fn with the session locked, creating the session first if
// needed. The session's history is trimmed afterwards.
func (m *MemoryStore) WithSession(id string, fn func(s *Session) error) error {
	s := m.acquire(id)
	defer s.mu.Unlock()
	err := fn(s)
	s.LastActivity = m.now()
	m.trimLocked(s)
	return err
}

// Get returns a copy of the session's history. Unknown sessions are not
// created.
func (m *MemoryStore) Get(sessionID string) []Message {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Reset forgets the session entirely.
func (m *MemoryStore) Reset(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	// Waits for a request still holding the session.
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) trimLocked(s *Session) {
	if m.maxMessages <= 0 {
		return
	}
	if len(s.Messages) > m.maxMessages {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-m.maxMessages:]...)
	}
}

// RunEvictionLoop drops sessions idle for longer than idle, checking every
// interval, until ctx is done. It returns immediately when either duration
// is not positive.
func (m *MemoryStore) RunEvictionLoop(ctx context.Context, idle, interval time.Duration) error {
	if idle <= 0 || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := m.evictIdleOnce(now, idle); n > 0 {
				log.Debug().Int("evicted", n).Int("remaining", m.Len()).Msg("evicted idle sessions")
			}
		}
	}
}

func (m *MemoryStore) evictIdleOnce(now time.Time, idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		// A locked session is in the middle of a request.
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.LastActivity) >= idle {
			s.dropped = true
			delete(m.sessions, id)
			evicted++
		}
		s.mu.Unlock()
	}
	return evicted
}
