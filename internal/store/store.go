// Package store keeps an observational audit log of dispatch attempts in
// SQLite. It records outcomes only; undelivered notifications are never
// replayed from here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	event      TEXT NOT NULL,
	delivered  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deliveries_created_at ON deliveries(created_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_user_id ON deliveries(user_id);
`

// Delivery is one recorded dispatch attempt.
type Delivery struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	JobID     string    `json:"jobId"`
	Event     string    `json:"event"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"createdAt"`
}

type record struct {
	userID    string
	jobID     string
	event     string
	delivered bool
}

// Store is the SQLite-backed audit log. All writes funnel through a single
// goroutine; SQLite tolerates concurrent readers but not concurrent writers.
type Store struct {
	db      *sql.DB
	writeCh chan record
	log     zerolog.Logger

	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the audit database and starts the writer goroutine.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan record, 256),
		log:      log.With().Str("component", "delivery_store").Logger(),
		shutdown: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// Record logs one dispatch attempt. Best-effort and non-blocking: when the
// write queue is full the record is dropped with a warning rather than
// slowing the delivery path down.
func (s *Store) Record(userID, jobID, event string, delivered bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.writeCh <- record{userID: userID, jobID: jobID, event: event, delivered: delivered}:
	default:
		s.log.Warn().Str("user_id", userID).Msg("audit queue full; dropping record")
	}
}

// Recent returns the latest dispatch attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, job_id, event, delivered, created_at
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]Delivery, 0, limit)
	for rows.Next() {
		var d Delivery
		var delivered int
		if err := rows.Scan(&d.ID, &d.UserID, &d.JobID, &d.Event, &delivered, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Delivered = delivered != 0
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// Purge deletes records older than the retention window and returns the
// number removed.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deliveries: %w", err)
	}
	return res.RowsAffected()
}

// HealthCheck verifies the database responds.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case rec := <-s.writeCh:
			s.insert(rec)
		case <-s.shutdown:
			// Drain whatever is queued before shutting down.
			for {
				select {
				case rec := <-s.writeCh:
					s.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(rec record) {
	delivered := 0
	if rec.delivered {
		delivered = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO deliveries (user_id, job_id, event, delivered) VALUES (?, ?, ?, ?)`,
		rec.userID, rec.jobID, rec.event, delivered)
	if err != nil {
		s.log.Warn().Err(err).Msg("audit insert failed")
	}
}
