package websocket

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeConn is a minimal interfaces.Connection for registry tests.
type fakeConn struct {
	id     string
	userID string
}

func (f *fakeConn) ID() string                                                 { return f.id }
func (f *fakeConn) UserID() string                                             { return f.userID }
func (f *fakeConn) Email() string                                              { return f.userID + "@example.com" }
func (f *fakeConn) IsAuthenticated() bool                                      { return true }
func (f *fakeConn) CreatedAt() time.Time                                       { return time.Unix(0, 0) }
func (f *fakeConn) WriteEvent(event string, data map[string]interface{}) error { return nil }
func (f *fakeConn) WriteJSON(v interface{}) error                              { return nil }
func (f *fakeConn) Close() error                                               { return nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", &fakeConn{id: "c1", userID: "u1"})

	conns := r.Connections("u1")
	if len(conns) != 1 {
		t.Fatalf("Expected 1 connection, got %d", len(conns))
	}
	if conns[0].ID() != "c1" {
		t.Errorf("Expected connection c1, got %s", conns[0].ID())
	}
}

func TestRegistry_UnknownUserReturnsEmpty(t *testing.T) {
	r := NewRegistry()

	conns := r.Connections("nobody")
	if conns == nil {
		t.Error("Expected empty slice, got nil")
	}
	if len(conns) != 0 {
		t.Errorf("Expected no connections, got %d", len(conns))
	}
}

func TestRegistry_MultiDeviceFanOut(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", &fakeConn{id: "c1", userID: "u1"})
	r.Register("u1", &fakeConn{id: "c2", userID: "u1"})

	if got := len(r.Connections("u1")); got != 2 {
		t.Errorf("Expected 2 connections for u1, got %d", got)
	}

	stats := r.Stats()
	if stats.TotalConnections != 2 {
		t.Errorf("Expected total 2, got %d", stats.TotalConnections)
	}
	if stats.DistinctUsers != 1 {
		t.Errorf("Expected 1 distinct user, got %d", stats.DistinctUsers)
	}
}

func TestRegistry_DeregisterRemovesEmptyUserEntry(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", &fakeConn{id: "c1", userID: "u1"})
	r.Register("u1", &fakeConn{id: "c2", userID: "u1"})

	r.Deregister("u1", "c1")
	if got := len(r.Connections("u1")); got != 1 {
		t.Fatalf("Expected 1 connection after first deregister, got %d", got)
	}

	r.Deregister("u1", "c2")
	stats := r.Stats()
	if stats.DistinctUsers != 0 || stats.TotalConnections != 0 {
		t.Errorf("User entry must be removed with its last connection, got %+v", stats)
	}
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", &fakeConn{id: "c1", userID: "u1"})
	r.Register("u1", &fakeConn{id: "c2", userID: "u1"})

	// Double-deregister of c1 must not touch c2's entry.
	r.Deregister("u1", "c1")
	r.Deregister("u1", "c1")
	r.Deregister("u1", "never-registered")
	r.Deregister("ghost-user", "c9")

	conns := r.Connections("u1")
	if len(conns) != 1 || conns[0].ID() != "c2" {
		t.Errorf("Expected only c2 to remain, got %v", conns)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()

	r.Register("u2", &fakeConn{id: "c3", userID: "u2"})
	r.Register("u1", &fakeConn{id: "c2", userID: "u1"})
	r.Register("u1", &fakeConn{id: "c1", userID: "u1"})

	infos := r.Snapshot()
	if len(infos) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(infos))
	}

	// Ordered by user id, then connection id.
	want := []string{"c1", "c2", "c3"}
	for i, info := range infos {
		if info.ID != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], info.ID)
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", n%5)
			connID := fmt.Sprintf("c%d", n)
			r.Register(userID, &fakeConn{id: connID, userID: userID})
			r.Connections(userID)
			r.Stats()
			r.Deregister(userID, connID)
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	if stats.TotalConnections != 0 || stats.DistinctUsers != 0 {
		t.Errorf("Expected empty registry after balanced register/deregister, got %+v", stats)
	}
}
