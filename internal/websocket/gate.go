package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PetaTalenta/notification-service/pkg/interfaces"
)

// Gate runs the per-connection authentication state machine. Every admitted
// connection gets a bounded window to present a credential; verification is
// delegated to the external verifier. Success registers the connection for
// delivery, any failure closes it with a single discriminated reason.
type Gate struct {
	verifier      interfaces.Verifier
	registry      *Registry
	window        time.Duration
	verifyTimeout time.Duration
	log           zerolog.Logger

	mu      sync.Mutex
	windows map[string]*time.Timer // connID -> auth window timer
}

// authSuccess is the confirmation sent before any delivery event.
type authSuccess struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// authFailure carries the discriminated failure reason. Terminal: the
// connection is closed right after it is sent.
type authFailure struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// NewGate creates an authentication gate.
func NewGate(verifier interfaces.Verifier, registry *Registry, window, verifyTimeout time.Duration, log zerolog.Logger) *Gate {
	return &Gate{
		verifier:      verifier,
		registry:      registry,
		window:        window,
		verifyTimeout: verifyTimeout,
		log:           log.With().Str("component", "auth_gate").Logger(),
		windows:       make(map[string]*time.Timer),
	}
}

// Admit starts the authentication window for a newly opened connection.
// Windows are independent: one connection's timeout never touches another.
func (g *Gate) Admit(conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.windows[conn.ID()] = time.AfterFunc(g.window, func() {
		g.expire(conn)
	})
}

// Authenticate verifies the credential supplied by the client. Repeat calls
// on an already authenticated connection are idempotent: the confirmation is
// re-sent and nothing else changes.
func (g *Gate) Authenticate(conn *Connection, credential string) {
	if conn.IsAuthenticated() {
		g.sendSuccess(conn)
		return
	}

	if credential == "" {
		g.fail(conn, ReasonMissing, "authentication token is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.verifyTimeout)
	defer cancel()

	identity, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrCredentialExpired):
			g.fail(conn, ReasonExpired, "authentication token has expired")
		case errors.Is(err, interfaces.ErrCredentialInvalid):
			g.fail(conn, ReasonInvalid, "authentication token is invalid")
		default:
			// Verifier down or timed out. Terminal for this attempt only;
			// the gate recovers transparently once the verifier is back.
			g.log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("credential verifier unreachable")
			g.fail(conn, ReasonUnreachable, "unable to verify authentication token")
		}
		return
	}

	if !g.cancelWindow(conn.ID()) {
		// Window already expired and emitted its failure signal; the
		// connection is closing. Do not register a dead connection.
		return
	}

	conn.Bind(identity.UserID, identity.Email)
	g.registry.Register(identity.UserID, conn)
	g.sendSuccess(conn)

	g.log.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", identity.UserID).
		Msg("connection authenticated")
}

// Release cancels a connection's pending window, if any. Called on every
// close path; safe to call multiple times.
func (g *Gate) Release(conn *Connection) {
	g.cancelWindow(conn.ID())
}

// cancelWindow removes and stops the connection's window timer. Returns
// false when the window already fired or was canceled: the map entry is the
// token guaranteeing at most one outcome per window.
func (g *Gate) cancelWindow(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	timer, ok := g.windows[connID]
	if !ok {
		return false
	}
	delete(g.windows, connID)
	timer.Stop()
	return true
}

// expire fires when the window elapses without successful authentication.
func (g *Gate) expire(conn *Connection) {
	if !g.cancelWindow(conn.ID()) {
		return // authenticated or already failed; nothing to do
	}

	g.log.Info().Str("conn_id", conn.ID()).Msg("authentication window expired")

	g.send(conn, authFailure{
		Type:    "auth_error",
		Reason:  ReasonTimeout,
		Message: "authentication not completed in time",
	})
	_ = conn.Close()
}

// fail emits a single failure signal and closes the connection.
func (g *Gate) fail(conn *Connection, reason, message string) {
	if !g.cancelWindow(conn.ID()) {
		return // window already resolved; failure signal already sent
	}

	g.log.Info().
		Str("conn_id", conn.ID()).
		Str("reason", reason).
		Msg("authentication failed")

	g.send(conn, authFailure{Type: "auth_error", Reason: reason, Message: message})
	_ = conn.Close()
}

func (g *Gate) sendSuccess(conn *Connection) {
	g.send(conn, authSuccess{
		Type:   "authenticated",
		UserID: conn.UserID(),
		Email:  conn.Email(),
	})
}

func (g *Gate) send(conn *Connection, v interface{}) {
	if err := conn.WriteJSON(v); err != nil {
		g.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("auth reply not delivered")
	}
}
