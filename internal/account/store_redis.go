package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKinds are the per-session keys that share the session's expiry.
// Pending requests carry their own.
var sessionKinds = []string{"seq", "order", "accounts", "active", "tokens"}

// RedisStore keeps the account cache in Redis so several shell replicas share it.
// Session keys expire sessionTTL after the session's last write.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	sessionTTL time.Duration
	now        func() time.Time
}

// OpenRedisStore connects to the Redis server at url and checks it with PING.
func OpenRedisStore(ctx context.Context, url string, sessionTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(rdb, sessionTTL), nil
}

// NewRedisStore wraps an existing client. A zero sessionTTL keeps sessions forever.
func NewRedisStore(rdb *redis.Client, sessionTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "authshell", sessionTTL: sessionTTL, now: time.Now}
}

func (s *RedisStore) key(sessionID, kind string) string {
	return s.prefix + ":" + sessionID + ":" + kind
}

// touch queues an expiry reset on every session key.
func (s *RedisStore) touch(ctx context.Context, p redis.Pipeliner, sessionID string) {
	if s.sessionTTL <= 0 {
		return
	}
	for _, kind := range sessionKinds {
		p.Expire(ctx, s.key(sessionID, kind), s.sessionTTL)
	}
}

func (s *RedisStore) SaveAccount(ctx context.Context, sessionID string, a Account) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	seq, err := s.rdb.Incr(ctx, s.key(sessionID, "seq")).Result()
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAddNX(ctx, s.key(sessionID, "order"), redis.Z{Score: float64(seq), Member: a.HomeAccountID})
		p.HSet(ctx, s.key(sessionID, "accounts"), a.HomeAccountID, b)
		s.touch(ctx, p, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *RedisStore) Accounts(ctx context.Context, sessionID string) ([]Account, error) {
	ids, err := s.rdb.ZRange(ctx, s.key(sessionID, "order"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.key(sessionID, "accounts"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]Account, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a Account
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (s *RedisStore) SetActive(ctx context.Context, sessionID, homeAccountID string) error {
	ok, err := s.rdb.HExists(ctx, s.key(sessionID, "accounts"), homeAccountID).Result()
	if err != nil {
		return fmt.Errorf("set active account: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(sessionID, "active"), homeAccountID, 0)
		s.touch(ctx, p, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set active account: %w", err)
	}
	return nil
}

func (s *RedisStore) Active(ctx context.Context, sessionID string) (string, error) {
	id, err := s.rdb.Get(ctx, s.key(sessionID, "active")).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get active account: %w", err)
	}
	return id, nil
}

func (s *RedisStore) SaveToken(ctx context.Context, sessionID, homeAccountID string, t Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(sessionID, "tokens"), homeAccountID, b)
		s.touch(ctx, p, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *RedisStore) Token(ctx context.Context, sessionID, homeAccountID string) (Token, error) {
	raw, err := s.rdb.HGet(ctx, s.key(sessionID, "tokens"), homeAccountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("get token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("decode token: %w", err)
	}
	return t, nil
}

func (s *RedisStore) SavePending(ctx context.Context, sessionID string, p Pending) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("save pending request: %w", err)
	}
	var ttl time.Duration
	if !p.ExpiresAt.IsZero() {
		ttl = p.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.rdb.Set(ctx, s.key(sessionID, "pending:"+p.State), b, ttl).Err(); err != nil {
		return fmt.Errorf("save pending request: %w", err)
	}
	return nil
}

func (s *RedisStore) TakePending(ctx context.Context, sessionID, state string) (Pending, error) {
	raw, err := s.rdb.GetDel(ctx, s.key(sessionID, "pending:"+state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pending{}, ErrNotFound
	}
	if err != nil {
		return Pending{}, fmt.Errorf("take pending request: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pending{}, fmt.Errorf("decode pending request: %w", err)
	}
	if p.Expired(s.now()) {
		return Pending{}, ErrNotFound
	}
	return p, nil
}

// Purge is a no-op: Redis expires session and pending keys itself.
func (s *RedisStore) Purge(ctx context.Context, idle time.Duration) (int, error) { return 0, nil }

func (s *RedisStore) Close() error { return s.rdb.Close() }
