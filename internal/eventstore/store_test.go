package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/interview"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsQueryable(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendSession(ctx, "s1", "Ada", "SRE"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "s1", Type: EventStatus, Status: "greeting"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s1", 0)
	if err != nil || len(events) != 1 || events[0].Status != "greeting" {
		t.Fatalf("unexpected events %+v (%v)", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.AppendSession(context.Background(), sessionID, "Ada", "Backend engineer"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, status := range []string{"greeting", "asking", "listening"} {
		evt := Event{SessionID: sessionID, Type: EventStatus, Status: status, Payload: []byte(status), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := es.AppendEvent(context.Background(), evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[2].Status != "listening" || !events[2].CreatedAt.Equal(base.Add(2*time.Second)) {
		t.Fatalf("unexpected last event %+v", events[2])
	}
	if string(events[0].Payload) != "greeting" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestEventRequiresSession(t *testing.T) {
	es, err := Open(context.Background(), config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendEvent(context.Background(), Event{SessionID: "ghost", Type: EventStatus}); err == nil {
		t.Fatal("expected foreign key violation for unknown session")
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	conf := 72.5
	report := interview.Report{
		SessionID:      "s-report",
		CandidateName:  "Ada",
		JobDescription: "SRE",
		Questions:      []string{"Why?"},
		ConversationHistory: []interview.Turn{
			{Speaker: interview.SpeakerInterviewer, Text: "Why?", Timestamp: time.Now()},
			{Speaker: interview.SpeakerCandidate, Text: "Because.", Timestamp: time.Now(), Confidence: &conf},
		},
		Duration:        1500 * time.Millisecond,
		DurationSeconds: 2,
		EndReason:       interview.EndQuestionsExhausted,
	}
	if err := es.SaveReport(context.Background(), report); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := es.LoadReport(context.Background(), "s-report")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if got.CandidateName != "Ada" || len(got.ConversationHistory) != 2 || *got.ConversationHistory[1].Confidence != conf {
		t.Fatalf("unexpected report %+v", got)
	}
	if _, ok, err := es.LoadReport(context.Background(), "missing"); ok || err != nil {
		t.Fatalf("expected missing report, got %v %v", ok, err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "Ada", "SRE"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: EventStatus}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "Bob", "SRE"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
