// Package dispatcher fans a named event out to every live connection of a
// user. Delivery is fire-and-forget per connection: no retry, no queuing,
// and one broken connection never blocks the others.
package dispatcher

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/PetaTalenta/notification-service/internal/websocket"
)

// A miss for an offline user is normal, so misses are logged only on the
// first and every Nth occurrence per user to keep persistently offline
// users from flooding the log.
const missLogEvery = 100

// Recorder receives the outcome of every delivery attempt. Implemented by
// the store's audit log; optional.
type Recorder interface {
	Record(userID, jobID, eventName string, delivered bool)
}

// Dispatcher delivers events through the connection registry.
type Dispatcher struct {
	registry *websocket.Registry
	recorder Recorder
	log      zerolog.Logger

	mu     sync.Mutex
	misses map[string]int // userID -> consecutive offline deliveries
}

// Option configures optional dispatcher behavior.
type Option func(*Dispatcher)

// WithRecorder attaches an audit recorder to the dispatcher.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// New creates a dispatcher backed by the given registry.
func New(registry *websocket.Registry, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      log.With().Str("component", "dispatcher").Logger(),
		misses:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver pushes the event to all of the user's connections. Returns true
// iff at least one connection existed at call time; false is the expected
// outcome for an offline user, not an error.
func (d *Dispatcher) Deliver(userID, eventName string, payload map[string]interface{}) bool {
	conns := d.registry.Connections(userID)
	if len(conns) == 0 {
		d.recordMiss(userID, eventName, payload)
		return false
	}

	d.resetMisses(userID)

	for _, conn := range conns {
		if err := conn.WriteEvent(eventName, payload); err != nil {
			// The read loop tears down broken connections; skipping here
			// keeps delivery moving to the remaining ones.
			d.log.Warn().
				Err(err).
				Str("user_id", userID).
				Str("conn_id", conn.ID()).
				Str("event", eventName).
				Msg("write to connection failed")
		}
	}

	d.log.Debug().
		Str("user_id", userID).
		Str("event", eventName).
		Int("connections", len(conns)).
		Msg("event delivered")

	d.record(userID, eventName, payload, true)
	return true
}

func (d *Dispatcher) recordMiss(userID, eventName string, payload map[string]interface{}) {
	d.mu.Lock()
	count := d.misses[userID]
	d.misses[userID] = count + 1
	d.mu.Unlock()

	if count%missLogEvery == 0 {
		d.log.Info().
			Str("user_id", userID).
			Str("event", eventName).
			Int("consecutive_misses", count+1).
			Msg("no live connections for user")
	}

	d.record(userID, eventName, payload, false)
}

func (d *Dispatcher) resetMisses(userID string) {
	d.mu.Lock()
	delete(d.misses, userID)
	d.mu.Unlock()
}

func (d *Dispatcher) record(userID, eventName string, payload map[string]interface{}, delivered bool) {
	if d.recorder == nil {
		return
	}
	jobID, _ := payload["jobId"].(string)
	d.recorder.Record(userID, jobID, eventName, delivered)
}
