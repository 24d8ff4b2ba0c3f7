package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	touched_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL,
	home_account_id  TEXT NOT NULL,
	local_account_id TEXT NOT NULL,
	tenant_id        TEXT NOT NULL,
	environment      TEXT NOT NULL,
	username         TEXT NOT NULL,
	name             TEXT NOT NULL,
	UNIQUE (session_id, home_account_id)
);
CREATE TABLE IF NOT EXISTS active_accounts (
	session_id      TEXT PRIMARY KEY,
	home_account_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	session_id      TEXT NOT NULL,
	home_account_id TEXT NOT NULL,
	access_token    TEXT NOT NULL,
	refresh_token   TEXT NOT NULL,
	token_type      TEXT NOT NULL,
	expiry_ms       INTEGER NOT NULL,
	scopes          TEXT NOT NULL,
	PRIMARY KEY (session_id, home_account_id)
);
CREATE TABLE IF NOT EXISTS pending_requests (
	session_id    TEXT NOT NULL,
	state         TEXT NOT NULL,
	verifier      TEXT NOT NULL,
	nonce         TEXT NOT NULL,
	scopes        TEXT NOT NULL,
	expires_at_ms INTEGER NOT NULL,
	PRIMARY KEY (session_id, state)
);
CREATE INDEX IF NOT EXISTS sessions_touched ON sessions (touched_ms);`

// sessionTables hold per-session rows and are cleared when a session is purged.
var sessionTables = []string{"accounts", "active_accounts", "tokens", "pending_requests"}

type accountRow struct {
	HomeAccountID  string `db:"home_account_id"`
	LocalAccountID string `db:"local_account_id"`
	TenantID       string `db:"tenant_id"`
	Environment    string `db:"environment"`
	Username       string `db:"username"`
	Name           string `db:"name"`
}

type tokenRow struct {
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	TokenType    string `db:"token_type"`
	ExpiryMS     int64  `db:"expiry_ms"`
	Scopes       string `db:"scopes"`
}

type pendingRow struct {
	State       string `db:"state"`
	Verifier    string `db:"verifier"`
	Nonce       string `db:"nonce"`
	Scopes      string `db:"scopes"`
	ExpiresAtMS int64  `db:"expires_at_ms"`
}

// SQLStore persists the account cache in SQLite so accounts survive restarts.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQLStore opens (and migrates) a SQLite database at dsn.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate account cache: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// touch records a write to sessionID.
func (s *SQLStore) touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, touched_ms) VALUES (?, ?)
		ON CONFLICT (session_id) DO UPDATE SET touched_ms = excluded.touched_ms`,
		sessionID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveAccount(ctx context.Context, sessionID string, a Account) error {
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (session_id, home_account_id, local_account_id, tenant_id, environment, username, name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, home_account_id) DO UPDATE SET
			local_account_id = excluded.local_account_id,
			tenant_id = excluded.tenant_id,
			environment = excluded.environment,
			username = excluded.username,
			name = excluded.name`,
		sessionID, a.HomeAccountID, a.LocalAccountID, a.TenantID, a.Environment, a.Username, a.Name)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *SQLStore) Accounts(ctx context.Context, sessionID string) ([]Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT home_account_id, local_account_id, tenant_id, environment, username, name
		FROM accounts WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, Account(r))
	}
	return accounts, nil
}

func (s *SQLStore) SetActive(ctx context.Context, sessionID, homeAccountID string) error {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM accounts WHERE session_id = ? AND home_account_id = ?`, sessionID, homeAccountID)
	if err != nil {
		return fmt.Errorf("set active account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO active_accounts (session_id, home_account_id) VALUES (?, ?)
		ON CONFLICT (session_id) DO UPDATE SET home_account_id = excluded.home_account_id`,
		sessionID, homeAccountID)
	if err != nil {
		return fmt.Errorf("set active account: %w", err)
	}
	return nil
}

func (s *SQLStore) Active(ctx context.Context, sessionID string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT home_account_id FROM active_accounts WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get active account: %w", err)
	}
	return id, nil
}

func (s *SQLStore) SaveToken(ctx context.Context, sessionID, homeAccountID string, t Token) error {
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (session_id, home_account_id, access_token, refresh_token, token_type, expiry_ms, scopes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, home_account_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry_ms = excluded.expiry_ms,
			scopes = excluded.scopes`,
		sessionID, homeAccountID, t.AccessToken, t.RefreshToken, t.TokenType, toMillis(t.Expiry), strings.Join(t.Scopes, " "))
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *SQLStore) Token(ctx context.Context, sessionID, homeAccountID string) (Token, error) {
	var r tokenRow
	err := s.db.GetContext(ctx, &r, `
		SELECT access_token, refresh_token, token_type, expiry_ms, scopes
		FROM tokens WHERE session_id = ? AND home_account_id = ?`, sessionID, homeAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("get token: %w", err)
	}
	return Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       fromMillis(r.ExpiryMS),
		Scopes:       strings.Fields(r.Scopes),
	}, nil
}

func (s *SQLStore) SavePending(ctx context.Context, sessionID string, p Pending) error {
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_requests (session_id, state, verifier, nonce, scopes, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, p.State, p.Verifier, p.Nonce, strings.Join(p.Scopes, " "), toMillis(p.ExpiresAt))
	if err != nil {
		return fmt.Errorf("save pending request: %w", err)
	}
	return nil
}

func (s *SQLStore) TakePending(ctx context.Context, sessionID, state string) (Pending, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Pending{}, fmt.Errorf("take pending request: %w", err)
	}
	defer tx.Rollback()

	var r pendingRow
	err = tx.GetContext(ctx, &r, `
		SELECT state, verifier, nonce, scopes, expires_at_ms
		FROM pending_requests WHERE session_id = ? AND state = ?`, sessionID, state)
	if errors.Is(err, sql.ErrNoRows) {
		return Pending{}, ErrNotFound
	}
	if err != nil {
		return Pending{}, fmt.Errorf("take pending request: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE session_id = ? AND state = ?`, sessionID, state); err != nil {
		return Pending{}, fmt.Errorf("take pending request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Pending{}, fmt.Errorf("take pending request: %w", err)
	}

	p := Pending{
		State:     r.State,
		Verifier:  r.Verifier,
		Nonce:     r.Nonce,
		Scopes:    strings.Fields(r.Scopes),
		ExpiresAt: fromMillis(r.ExpiresAtMS),
	}
	if p.Expired(s.now()) {
		return Pending{}, ErrNotFound
	}
	return p, nil
}

func (s *SQLStore) Purge(ctx context.Context, idle time.Duration) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE expires_at_ms > 0 AND expires_at_ms < ?`, now); err != nil {
		return 0, fmt.Errorf("purge pending requests: %w", err)
	}
	cutoff := int64(math.MinInt64)
	if idle > 0 {
		cutoff = now - idle.Milliseconds()
	}
	for _, table := range sessionTables {
		q := `DELETE FROM ` + table + ` WHERE session_id IN (SELECT session_id FROM sessions WHERE touched_ms < ?)`
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, fmt.Errorf("purge %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE touched_ms < ?
			OR (session_id NOT IN (SELECT session_id FROM accounts)
				AND session_id NOT IN (SELECT session_id FROM tokens)
				AND session_id NOT IN (SELECT session_id FROM pending_requests))`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
