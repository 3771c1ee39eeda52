package interfaces

import "context"

// Identity is the result of a successful credential verification.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Verifier checks an opaque credential against the external auth service.
// Implementations must bound the call with the supplied context; a slow or
// unreachable verifier surfaces as ErrVerifierUnreachable, never as a stall.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}
