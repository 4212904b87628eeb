package session

import (
	"fmt"
	"sync"
)

// MemoryStore keeps the session in process memory. It does not survive a
// restart; it exists for tests and for substituting the SQLite store.
type MemoryStore struct {
	mu   sync.Mutex
	sess *Session
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Save(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !sess.Complete() {
		return fmt.Errorf("refusing to save incomplete session")
	}
	cp := *sess
	m.sess = &cp
	return nil
}

func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, nil
	}
	cp := *m.sess
	return &cp, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}
