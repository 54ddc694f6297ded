package store

import (
	"sync"
	"time"
)

type Message struct {
	Role    string
	Content string
}

// sessionTTL is how long an idle session's history is kept.
var sessionTTL = 30 * time.Minute

type session struct {
	messages  []Message
	updatedAt time.Time
}

// MemoryStore keeps the recent exchanges of each session in memory. It is
// the source of the reply generator's context window.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	maxMessages int
	now         func() time.Time
	lastSweep   time.Time
}

func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*session),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (m *MemoryStore) Append(sessionID string, msgs ...Message) {
	if sessionID == "" || len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &session{}
		m.sessions[sessionID] = s
	}
	s.messages = append(s.messages, msgs...)
	s.updatedAt = m.now()
	m.trimLocked(s)
	// new sessions arrive with every cookieless request; sweep here too so
	// the map stays bounded without a janitor
	if m.lastSweep.IsZero() {
		m.lastSweep = m.now()
	} else if m.now().Sub(m.lastSweep) >= sessionTTL {
		m.expireLocked()
	}
}

// Get returns a copy of the session's messages, oldest first. Sessions idle
// longer than the TTL read as empty.
func (m *MemoryStore) Get(sessionID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || m.now().Sub(s.updatedAt) > sessionTTL {
		return nil
	}
	copyMsgs := make([]Message, len(s.messages))
	copy(copyMsgs, s.messages)
	return copyMsgs
}

// Len returns the number of sessions held, idle or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Expire drops sessions idle longer than the TTL and returns how many.
// Append also does this at most once per TTL.
func (m *MemoryStore) Expire() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expireLocked()
}

func (m *MemoryStore) expireLocked() int {
	m.lastSweep = m.now()
	n := 0
	for id, s := range m.sessions {
		if m.now().Sub(s.updatedAt) > sessionTTL {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *MemoryStore) trimLocked(s *session) {
	if m.maxMessages <= 0 {
		return
	}
	if len(s.messages) > m.maxMessages {
		s.messages = append([]Message(nil), s.messages[len(s.messages)-m.maxMessages:]...)
	}
}
