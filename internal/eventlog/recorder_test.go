package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/ibam-learn/enrollgw/internal/storage"
)

func testRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRecorder(db, logger)
}

func TestRecordPersistsAndStamps(t *testing.T) {
	ctx := context.Background()
	r := testRecorder(t)

	ev := r.Record(ctx, Event{
		EventType:    "CONTACT_TAG_ADDED",
		ContactEmail: "a@b.com",
		Tag:          "IBAM Impact Members",
		Tags:         []string{"IBAM Impact Members"},
		RawPayload:   []byte(`{"tag":{"name":"IBAM Impact Members"}}`),
	})

	if ev.ID == "" {
		t.Error("event ID should be stamped")
	}
	if ev.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
	if ev.Fingerprint == "" {
		t.Error("payload fingerprint should be computed")
	}

	total, err := r.Total(ctx)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total != 1 {
		t.Errorf("Total = %d, want 1", total)
	}
}

func TestIdenticalPayloadsShareFingerprint(t *testing.T) {
	ctx := context.Background()
	r := testRecorder(t)

	raw := []byte(`{"contact":{"email":"a@b.com"}}`)
	e1 := r.Record(ctx, Event{EventType: "CONTACT_TAG_ADDED", RawPayload: raw})
	e2 := r.Record(ctx, Event{EventType: "CONTACT_TAG_ADDED", RawPayload: raw})
	e3 := r.Record(ctx, Event{EventType: "CONTACT_TAG_ADDED", RawPayload: []byte(`{"contact":{"email":"c@d.com"}}`)})

	if e1.Fingerprint != e2.Fingerprint {
		t.Error("re-delivered payload should produce the same fingerprint")
	}
	if e1.Fingerprint == e3.Fingerprint {
		t.Error("different payloads should produce different fingerprints")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := testRecorder(t)

	for i := 0; i < 5; i++ {
		r.Record(ctx, Event{EventType: fmt.Sprintf("evt-%d", i)})
	}

	recent := r.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) returned %d events", len(recent))
	}
	if recent[0].EventType != "evt-4" || recent[2].EventType != "evt-2" {
		t.Errorf("Recent order wrong: %s ... %s", recent[0].EventType, recent[2].EventType)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	ctx := context.Background()
	r := testRecorder(t)

	for i := 0; i < RingSize+10; i++ {
		r.Record(ctx, Event{EventType: fmt.Sprintf("evt-%d", i)})
	}

	all := r.Recent(0)
	if len(all) != RingSize {
		t.Fatalf("ring holds %d events, want %d", len(all), RingSize)
	}
	// Oldest surviving entry should be evt-10.
	if all[len(all)-1].EventType != "evt-10" {
		t.Errorf("oldest = %s, want evt-10", all[len(all)-1].EventType)
	}
}

func TestRecordSurvivesClosedDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
	r := NewRecorder(db, logger)
	db.Close()

	// Must not panic and must still land in the ring.
	ev := r.Record(ctx, Event{EventType: "CONTACT_TAG_ADDED"})
	if ev.ID == "" {
		t.Error("event should still be stamped")
	}
	if len(r.Recent(1)) != 1 {
		t.Error("event should still reach the in-memory tail")
	}
}
