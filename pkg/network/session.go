package network

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one matched (client, worker) pair. It exists to deliver
// the two pair-info writes and to coordinate teardown; neither side
// owns the other, both hold the session id as a backlink.
type Session struct {
	ID     uuid.UUID
	Client *Conn
	Worker *Conn
}

func newSession(client, worker *Conn) *Session {
	return &Session{ID: uuid.New(), Client: client, Worker: worker}
}

// Peer returns the other half of the pair.
func (s *Session) Peer(c *Conn) *Conn {
	if c.HostID() == s.Client.HostID() {
		return s.Worker
	}
	return s.Client
}

type sessionMap struct {
	sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func newSessionMap() *sessionMap {
	return &sessionMap{sessions: make(map[uuid.UUID]*Session)}
}

func (m *sessionMap) add(s *Session) {
	m.Lock()
	m.sessions[s.ID] = s
	m.Unlock()
}

func (m *sessionMap) remove(id uuid.UUID) (*Session, bool) {
	m.Lock()
	defer m.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

func (m *sessionMap) len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.sessions)
}
