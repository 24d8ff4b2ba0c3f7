package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInitialized      = errors.New("identity gateway is not initialized")
	ErrInteractionRequired = errors.New("interaction required")
	ErrNoAccount           = errors.New("no account in cache")
)

// ErrStateMismatch rejects a redirect response that does not belong to a
// request this session started.
var ErrStateMismatch = errors.New("redirect response does not match a pending request")

// InteractionRequiredError reports that a token for Scopes cannot be obtained
// without sending the user through the provider's sign-in page.
type InteractionRequiredError struct {
	Scopes []string
	Reason string
	Err    error
}

func (e *InteractionRequiredError) Error() string {
	msg := "interaction required for " + strings.Join(e.Scopes, " ") + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InteractionRequiredError) Unwrap() error { return e.Err }

func (e *InteractionRequiredError) Is(target error) bool { return target == ErrInteractionRequired }

// ProviderError is an error response returned by the provider on the redirect.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return "identity provider error: " + e.Code
	}
	return fmt.Sprintf("identity provider error: %s: %s", e.Code, e.Description)
}
