package account

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memorySession struct {
	accounts []Account
	active   string
	tokens   map[string]Token
	pending  map[string]Pending
	touched  time.Time
}

type MemoryStore struct {
	sessions map[string]*memorySession
	mu       sync.RWMutex
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

// session returns the session entry, creating it, and marks it written.
// Callers hold the write lock.
func (m *MemoryStore) session(id string) *memorySession {
	s, ok := m.sessions[id]
	if !ok {
		s = &memorySession{tokens: make(map[string]Token), pending: make(map[string]Pending)}
		m.sessions[id] = s
	}
	s.touched = m.now()
	return s
}

func (m *MemoryStore) SaveAccount(ctx context.Context, sessionID string, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(sessionID)
	for i := range s.accounts {
		if s.accounts[i].HomeAccountID == a.HomeAccountID {
			s.accounts[i] = a
			return nil
		}
	}
	s.accounts = append(s.accounts, a)
	return nil
}

func (m *MemoryStore) Accounts(ctx context.Context, sessionID string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(s.accounts), nil
}

func (m *MemoryStore) SetActive(ctx context.Context, sessionID, homeAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !slices.ContainsFunc(s.accounts, func(a Account) bool { return a.HomeAccountID == homeAccountID }) {
		return ErrNotFound
	}
	s.active = homeAccountID
	s.touched = m.now()
	return nil
}

func (m *MemoryStore) Active(ctx context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.active == "" {
		return "", ErrNotFound
	}
	return s.active, nil
}

func (m *MemoryStore) SaveToken(ctx context.Context, sessionID, homeAccountID string, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Scopes = slices.Clone(t.Scopes)
	m.session(sessionID).tokens[homeAccountID] = t
	return nil
}

func (m *MemoryStore) Token(ctx context.Context, sessionID, homeAccountID string) (Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Token{}, ErrNotFound
	}
	t, ok := s.tokens[homeAccountID]
	if !ok {
		return Token{}, ErrNotFound
	}
	t.Scopes = slices.Clone(t.Scopes)
	return t, nil
}

func (m *MemoryStore) SavePending(ctx context.Context, sessionID string, p Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(sessionID).pending[p.State] = p
	return nil
}

func (m *MemoryStore) TakePending(ctx context.Context, sessionID, state string) (Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Pending{}, ErrNotFound
	}
	p, ok := s.pending[state]
	if !ok {
		return Pending{}, ErrNotFound
	}
	delete(s.pending, state)
	if p.Expired(m.now()) {
		return Pending{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) Purge(ctx context.Context, idle time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	purged := 0
	for id, s := range m.sessions {
		for state, p := range s.pending {
			if p.Expired(now) {
				delete(s.pending, state)
			}
		}
		empty := len(s.accounts) == 0 && len(s.tokens) == 0 && len(s.pending) == 0
		if empty || (idle > 0 && now.Sub(s.touched) > idle) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of sessions held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }
