package account

import (
	"context"
	"fmt"
	"time"
)

// Open returns the store for a cache location: "memory", "sqlite" or "redis".
// sessionTTL is the Redis key expiry; the other stores rely on Purge.
func Open(ctx context.Context, location, sqliteDSN, redisURL string, sessionTTL time.Duration) (Store, error) {
	switch location {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := OpenSQLStore(ctx, sqliteDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := OpenRedisStore(ctx, redisURL, sessionTTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache location %q", location)
	}
}
