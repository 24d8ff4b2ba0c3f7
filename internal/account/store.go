// Package account holds the account cache: signed-in accounts, their tokens,
// the active-account marker, and pending authorization requests, all scoped to
// a browser session id.
package account

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Store is the account cache. Implementations are safe for concurrent use.
type Store interface {
	// SaveAccount inserts or replaces an account; replacing keeps its position.
	SaveAccount(ctx context.Context, sessionID string, a Account) error
	// Accounts lists cached accounts in the order they were first saved.
	Accounts(ctx context.Context, sessionID string) ([]Account, error)

	// SetActive marks a cached account as the session's single active account.
	SetActive(ctx context.Context, sessionID, homeAccountID string) error
	Active(ctx context.Context, sessionID string) (string, error)

	SaveToken(ctx context.Context, sessionID, homeAccountID string, t Token) error
	Token(ctx context.Context, sessionID, homeAccountID string) (Token, error)

	SavePending(ctx context.Context, sessionID string, p Pending) error
	// TakePending returns and removes a pending request; a request can be taken once.
	TakePending(ctx context.Context, sessionID, state string) (Pending, error)

	// Purge drops expired pending requests, sessions left with nothing cached,
	// and sessions not written to for idle. It returns the sessions dropped.
	Purge(ctx context.Context, idle time.Duration) (int, error)

	Close() error
}
