package websocket

import (
	"sort"
	"sync"
	"time"

	"github.com/PetaTalenta/notification-service/pkg/interfaces"
)

// Registry maps authenticated user ids to their live connections. A user may
// hold several connections at once (multiple devices or tabs); delivery fans
// out to all of them. The registry holds non-owning references: connection
// lifetime belongs to the transport layer.
//
// Invariant: a user id appears in the map iff at least one of its
// connections is authenticated and open; removing the last connection
// removes the user entry.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]interfaces.Connection // userID -> connID -> Connection
}

// Stats is a point-in-time summary for health and status reporting.
type Stats struct {
	TotalConnections int `json:"total"`
	DistinctUsers    int `json:"users"`
}

// ConnectionInfo is a read-only view of one registered connection, used by
// the debug surface.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]interfaces.Connection),
	}
}

// Register adds a connection to the user's set, creating the set if absent.
// Called exclusively by the auth gate after verification succeeds.
func (r *Registry) Register(userID string, conn interfaces.Connection) {
	if userID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]interfaces.Connection)
		r.users[userID] = set
	}
	set[conn.ID()] = conn
}

// Deregister removes a connection from the user's set and drops the user
// entry when the set empties. Idempotent: double-close and races between
// close paths make repeat calls normal, never an error.
func (r *Registry) Deregister(userID, connID string) {
	if userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// Connections returns the user's live connections. Empty slice for unknown
// users, never an error.
func (r *Registry) Connections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]interfaces.Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns registered connection totals for health reporting.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.users {
		total += len(set)
	}
	return Stats{
		TotalConnections: total,
		DistinctUsers:    len(r.users),
	}
}

// Snapshot returns the full connection listing, ordered by user id, for the
// debug endpoints.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0)
	for userID, set := range r.users {
		for _, conn := range set {
			infos = append(infos, ConnectionInfo{
				ID:          conn.ID(),
				UserID:      userID,
				Email:       conn.Email(),
				ConnectedAt: conn.CreatedAt(),
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UserID != infos[j].UserID {
			return infos[i].UserID < infos[j].UserID
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}
