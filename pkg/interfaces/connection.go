package interfaces

import "time"

// Connection represents a live WebSocket client connection.
// Implementations must serialize writes internally; callers may invoke
// WriteEvent concurrently from webhook handlers and the consumer loop.
type Connection interface {
	// ID returns the opaque session identifier assigned at handshake.
	ID() string

	// UserID returns the owning user's ID, empty until authenticated.
	UserID() string

	// Email returns the authenticated user's email, empty until authenticated.
	Email() string

	// IsAuthenticated reports whether the connection passed the auth gate.
	IsAuthenticated() bool

	// CreatedAt returns the handshake timestamp.
	CreatedAt() time.Time

	// WriteEvent pushes a named event with a canonical payload and a
	// server-assigned delivery timestamp.
	WriteEvent(event string, data map[string]interface{}) error

	// WriteJSON sends an arbitrary JSON message (auth replies, errors).
	WriteJSON(v interface{}) error

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}
