package account

import (
	"context"
	"log/slog"
	"time"
)

// Janitor purges store every interval until ctx is done. Sessions not
// written to for idle are dropped along with their tokens.
func Janitor(ctx context.Context, store Store, every, idle time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx, idle)
			if err != nil {
				log.Error("purge account cache", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("purged account cache", "sessions", n)
			}
		}
	}
}
