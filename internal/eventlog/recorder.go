// Package eventlog persists one audit record per webhook decision and keeps
// a small in-memory tail for cheap recent-activity display.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// RingSize bounds the in-memory tail; oldest entries are evicted first.
const RingSize = 100

// Event is one processed (or rejected-after-parse) webhook delivery.
// Immutable once recorded.
type Event struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	EventType         string    `json:"event_type"`
	ContactEmail      string    `json:"contact_email,omitempty"`
	ContactName       string    `json:"contact_name,omitempty"`
	Tag               string    `json:"tag,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	MatchedMembership string    `json:"matched_membership,omitempty"`
	MatchedCourse     string    `json:"matched_course,omitempty"`
	AccountCreated    bool      `json:"account_created"`
	Error             string    `json:"error,omitempty"`
	Fingerprint       string    `json:"fingerprint,omitempty"`
	RawPayload        []byte    `json:"-"`
}

// Recorder appends events to the durable log and the ring buffer. Record
// never fails the caller: a webhook response must not depend on audit-log
// health.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger

	mu   sync.Mutex
	ring []Event
}

// NewRecorder creates a recorder backed by db.
func NewRecorder(db *sql.DB, logger *slog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger,
		ring:   make([]Event, 0, RingSize),
	}
}

// Record stamps the event with an ID, timestamp and payload fingerprint,
// then appends it to the durable log and the in-memory tail. Persistence
// failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Fingerprint == "" && len(ev.RawPayload) > 0 {
		sum := blake3.Sum256(ev.RawPayload)
		ev.Fingerprint = hex.EncodeToString(sum[:])
	}

	if err := r.persist(ctx, ev); err != nil {
		r.logger.Error("failed to persist webhook event",
			"event_id", ev.ID,
			"event_type", ev.EventType,
			"error", err,
		)
	}

	r.mu.Lock()
	r.ring = append(r.ring, ev)
	if len(r.ring) > RingSize {
		r.ring = r.ring[len(r.ring)-RingSize:]
	}
	r.mu.Unlock()

	return ev
}

func (r *Recorder) persist(ctx context.Context, ev Event) error {
	var tags any
	if len(ev.Tags) > 0 {
		b, err := json.Marshal(ev.Tags)
		if err != nil {
			return err
		}
		tags = string(b)
	}
	var raw any
	if len(ev.RawPayload) > 0 {
		raw = string(ev.RawPayload)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO webhook_events(
  id, created_at, event_type, contact_email, contact_name, tag, tags,
  matched_membership, matched_course, account_created, error, fingerprint, raw_payload
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, ev.ID, ev.CreatedAt.Format(time.RFC3339Nano), ev.EventType,
		nullable(ev.ContactEmail), nullable(ev.ContactName), nullable(ev.Tag), tags,
		nullable(ev.MatchedMembership), nullable(ev.MatchedCourse),
		boolToInt(ev.AccountCreated), nullable(ev.Error), nullable(ev.Fingerprint), raw)
	return err
}

// Recent returns up to n events from the in-memory tail, newest first.
func (r *Recorder) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.ring) {
		n = len(r.ring)
	}
	out := make([]Event, 0, n)
	for i := len(r.ring) - 1; i >= len(r.ring)-n; i-- {
		out = append(out, r.ring[i])
	}
	return out
}

// Total counts all durably logged events.
func (r *Recorder) Total(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM webhook_events;").Scan(&n)
	return n, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
