package websocket

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from the frontend origin; restriction is
		// handled at the ingress proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Options bounds the transport behavior of handled connections.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Handler upgrades HTTP requests to WebSocket connections and runs their
// read loops. Every connection passes through the auth gate before it can
// receive any delivery event.
type Handler struct {
	registry *Registry
	gate     *Gate
	opts     Options
	log      zerolog.Logger

	open atomic.Int64 // all open connections, authenticated or not
}

// clientMessage is the only inbound frame shape the server understands.
type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, gate *Gate, opts Options, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		gate:     gate,
		opts:     opts,
		log:      log.With().Str("component", "ws_handler").Logger(),
	}
}

// HandleWebSocket upgrades the request and admits the connection to the
// auth gate. The client has the gate's window to authenticate before the
// connection is closed.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(wsConn, h.opts.SendBuffer, h.opts.WriteTimeout)
	h.open.Add(1)
	h.gate.Admit(conn)

	h.log.Debug().Str("conn_id", conn.ID()).Msg("connection opened")

	go h.readLoop(conn)
}

// OpenConnections returns the number of currently open connections,
// including those still inside their authentication window.
func (h *Handler) OpenConnections() int {
	return int(h.open.Load())
}

// readLoop processes inbound frames for one connection and owns its
// cleanup. Every close path (client close, forced disconnect, auth failure)
// ends up here, so deregistration and window cancellation happen exactly
// once regardless of which side initiated the close.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.open.Add(-1)
		h.gate.Release(conn)
		h.registry.Deregister(conn.UserID(), conn.ID())
		_ = conn.Close()
		h.log.Debug().Str("conn_id", conn.ID()).Msg("connection closed")
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug().Str("conn_id", conn.ID()).Msg("ignoring malformed client frame")
			continue
		}

		switch msg.Type {
		case "authenticate":
			h.gate.Authenticate(conn, msg.Token)
		default:
			// Clients only ever send authenticate; anything else is noise.
			h.log.Debug().Str("conn_id", conn.ID()).Str("type", msg.Type).Msg("ignoring client frame")
		}
	}
}
