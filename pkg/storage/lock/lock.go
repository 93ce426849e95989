// Package lock tracks the per-sentence write locks a storage server hands
// out to edit sessions. Locks are advisory bookkeeping in memory: they are
// taken before a session is acknowledged, released when it commits or its
// connection drops, and never held across network I/O by the lock manager
// itself.
package lock

import "sync"

// Manager is a set of (file name, sentence index) locks. The zero value is
// not usable; call NewManager.
type Manager struct {
	mu   sync.Mutex
	held map[string]map[int]struct{}
}

// NewManager returns an empty lock manager.
func NewManager() *Manager {
	return &Manager{held: make(map[string]map[int]struct{})}
}

// Acquire takes the lock for sentence s of name. It reports false when that
// exact sentence is already locked; locks on other sentences of the same
// file do not conflict.
func (m *Manager) Acquire(name string, s int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sentences := m.held[name]
	if sentences == nil {
		sentences = make(map[int]struct{})
		m.held[name] = sentences
	}
	if _, taken := sentences[s]; taken {
		return false
	}
	sentences[s] = struct{}{}
	return true
}

// Release drops the lock for sentence s of name. Releasing a lock that is
// not held is a no-op.
func (m *Manager) Release(name string, s int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sentences := m.held[name]
	if sentences == nil {
		return
	}
	delete(sentences, s)
	if len(sentences) == 0 {
		delete(m.held, name)
	}
}

// Locked reports whether any sentence of name is currently locked. The name
// server asks this before allowing a delete.
func (m *Manager) Locked(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held[name]) > 0
}
