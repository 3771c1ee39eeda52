package interfaces

import "errors"

// Verification errors shared across the auth gate and verifier clients.
var (
	ErrCredentialMissing   = errors.New("credential missing")
	ErrCredentialInvalid   = errors.New("credential invalid")
	ErrCredentialExpired   = errors.New("credential expired")
	ErrVerifierUnreachable = errors.New("credential verifier unreachable")
)
