package mockidp

import "context"

type Repo interface {
	// User
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Authorization codes are consumed on first use.
	SaveAuthCode(ctx context.Context, c *AuthCode) error
	TakeAuthCode(ctx context.Context, code string) (*AuthCode, error)

	// Refresh tokens rotate: taking one revokes it.
	SaveRefreshToken(ctx context.Context, rt *RefreshToken) error
	TakeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
}
