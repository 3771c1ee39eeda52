package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Authentication failure reasons sent to clients. Terminal for the
// connection in every case; clients must reconnect and retry.
const (
	ReasonMissing     = "missing"
	ReasonInvalid     = "invalid"
	ReasonExpired     = "expired"
	ReasonTimeout     = "timeout"
	ReasonUnreachable = "unreachable-verifier"
)
