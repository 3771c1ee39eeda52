package interfaces

// EventDispatcher delivers a named event to every live connection of a user.
// Both ingestion paths (webhook and broker consumer) converge on this
// contract so their delivery behavior cannot drift apart.
type EventDispatcher interface {
	// Deliver returns true iff at least one open, authenticated connection
	// for userID received the event. A false return is the normal outcome
	// for an offline user, not an error.
	Deliver(userID, event string, payload map[string]interface{}) bool
}
