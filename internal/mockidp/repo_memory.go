package mockidp

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

type InMemoryRepo struct {
	users map[string]*User
	codes map[string]*AuthCode
	rmap  map[string]*RefreshToken
	mu    sync.RWMutex
	now   func() time.Time
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		users: make(map[string]*User),
		codes: make(map[string]*AuthCode),
		rmap:  make(map[string]*RefreshToken),
		now:   time.Now,
	}
}

func (r *InMemoryRepo) CreateUser(ctx context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *InMemoryRepo) GetUserByID(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *InMemoryRepo) SaveAuthCode(ctx context.Context, c *AuthCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[c.Code] = c
	return nil
}

func (r *InMemoryRepo) TakeAuthCode(ctx context.Context, code string) (*AuthCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.codes, code)
	if c.ExpiresAt.Before(r.now()) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *InMemoryRepo) SaveRefreshToken(ctx context.Context, rt *RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rmap[rt.Token] = rt
	return nil
}

func (r *InMemoryRepo) TakeRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.rmap[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.rmap, token)
	if rt.ExpiresAt.Before(r.now()) {
		return nil, ErrNotFound
	}
	return rt, nil
}
