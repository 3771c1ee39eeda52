package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PetaTalenta/notification-service/pkg/interfaces"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestConnection returns a wrapped connection whose peer forwards every
// received text frame into the returned channel.
func newTestConnection(t *testing.T) (*Connection, <-chan []byte) {
	t.Helper()

	frames := make(chan []byte, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer peer.Close()

		for {
			_, data, err := peer.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test WebSocket server: %v", err)
	}

	conn := NewConnection(wsConn, 16, time.Second)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, frames
}

func waitFrame(t *testing.T, frames <-chan []byte) map[string]interface{} {
	t.Helper()

	select {
	case data := <-frames:
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Peer received invalid JSON frame: %v", err)
		}
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frame")
		return nil
	}
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_InitialState(t *testing.T) {
	conn, _ := newTestConnection(t)

	if conn.ID() == "" {
		t.Error("Expected a session id to be assigned at creation")
	}
	if conn.IsAuthenticated() {
		t.Error("New connection must not be authenticated")
	}
	if conn.UserID() != "" {
		t.Error("User id must be absent until authentication")
	}
	if conn.CreatedAt().IsZero() {
		t.Error("Expected a creation timestamp")
	}
}

func TestConnection_BindSetsIdentity(t *testing.T) {
	conn, _ := newTestConnection(t)

	conn.Bind("user-1", "user@example.com")

	if !conn.IsAuthenticated() {
		t.Error("Connection must be authenticated after Bind")
	}
	if conn.UserID() != "user-1" {
		t.Errorf("Expected user-1, got %q", conn.UserID())
	}
	if conn.Email() != "user@example.com" {
		t.Errorf("Expected email to be set, got %q", conn.Email())
	}
}

func TestConnection_WriteEventFrameShape(t *testing.T) {
	conn, frames := newTestConnection(t)

	payload := map[string]interface{}{"jobId": "j1", "status": "completed"}
	if err := conn.WriteEvent("analysis-complete", payload); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	frame := waitFrame(t, frames)
	if frame["event"] != "analysis-complete" {
		t.Errorf("Expected event analysis-complete, got %v", frame["event"])
	}
	data, ok := frame["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data object, got %T", frame["data"])
	}
	if data["jobId"] != "j1" || data["status"] != "completed" {
		t.Errorf("Payload not preserved: %v", data)
	}
	if _, ok := frame["timestamp"].(string); !ok {
		t.Error("Expected server-assigned delivery timestamp on the frame")
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn, _ := newTestConnection(t)

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close must be a no-op, got: %v", err)
	}

	if err := conn.WriteJSON(map[string]string{"k": "v"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed after close, got %v", err)
	}
}

func TestConnection_CloseFlushesPendingWrites(t *testing.T) {
	conn, frames := newTestConnection(t)

	if err := conn.WriteJSON(map[string]string{"type": "auth_error", "reason": "timeout"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The frame was only queued when Close was called; it must still reach
	// the peer before the socket goes away.
	frame := waitFrame(t, frames)
	if frame["type"] != "auth_error" {
		t.Errorf("Expected the queued frame to be flushed, got %v", frame)
	}
}

func TestConnection_WriteFailureClosesConnection(t *testing.T) {
	conn, _ := newTestConnection(t)

	// Kill the transport out from under the writer.
	_ = conn.conn.Close()

	_ = conn.WriteJSON(map[string]string{"k": "v"})

	select {
	case <-conn.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Connection must tear itself down after a write failure")
	}

	if err := conn.WriteJSON(map[string]string{"k": "v"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed after write failure, got %v", err)
	}
}

func TestConnection_WriteJSONRejectsUnmarshalable(t *testing.T) {
	conn, _ := newTestConnection(t)

	if err := conn.WriteJSON(func() {}); err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}
