package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwizi/switchboard/internal/heartbeat"
	"github.com/dwizi/switchboard/internal/linemask"
	"github.com/dwizi/switchboard/internal/linestate"
)

func newTestJournal(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "switchboard_test.sqlite")
	journal, err := New(dbPath)
	if err != nil {
		t.Fatalf("open test journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	if err := journal.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test journal: %v", err)
	}
	return journal
}

func TestAppendAndRecent(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for index, status := range []string{"line_idle", "line_ringing", "line_connected"} {
		if _, err := journal.Append(ctx, Event{
			SessionID: "session-1",
			LineID:    index % 2,
			Kind:      "record",
			Status:    status,
			Mask:      linemask.Mask(1<<63 | 3),
			Active:    true,
			CreatedAt: base.Add(time.Duration(index) * time.Minute),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := journal.Recent(ctx, -1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Status != "line_connected" {
		t.Fatalf("expected newest first, got %s", events[0].Status)
	}
	if events[0].Mask != linemask.Mask(1<<63|3) {
		t.Fatalf("expected mask to survive round trip, got %d", events[0].Mask)
	}
	if !events[0].Active || events[0].ID == "" {
		t.Fatalf("unexpected event: %+v", events[0])
	}

	lineOne, err := journal.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("recent for line: %v", err)
	}
	if len(lineOne) != 1 || lineOne[0].Status != "line_ringing" {
		t.Fatalf("unexpected line filter result: %+v", lineOne)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestRecorderWritesDrainedChanges(t *testing.T) {
	journal := newTestJournal(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := linestate.New(4, logger)
	recorder := NewRecorder(journal, store, "session-2", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = recorder.Start(ctx)
		close(done)
	}()

	statuses := []string{"line_ringing", "line_idle"}
	deadline := time.Now().Add(2 * time.Second)
	var events []Event
	for attempt := 0; time.Now().Before(deadline); attempt++ {
		status := statuses[attempt%2]
		store.ApplyStatusDelta(2, linestate.Patch{Status: &status})
		var err error
		events, err = journal.Recent(context.Background(), 2, 10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(events) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if len(events) == 0 {
		t.Fatal("expected recorder to write an event")
	}
	if events[0].SessionID != "session-2" || events[0].Status == "" || events[0].Kind != "record" {
		t.Fatalf("unexpected recorded event: %+v", events[0])
	}
}

func TestRecorderDegradesWhenJournalUnreachable(t *testing.T) {
	journal := newTestJournal(t)
	if err := journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	health := heartbeat.NewRegistry()
	recorder := NewRecorder(journal, linestate.New(4, logger), "session-3", logger)
	recorder.SetHeartbeatReporter(health)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := recorder.Start(ctx); err != nil {
		t.Fatalf("expected recorder to wait out the context, got %v", err)
	}
	status, ok := health.Snapshot(time.Minute).Component(heartbeat.ComponentJournal)
	if !ok || status.State != heartbeat.StateDegraded {
		t.Fatalf("expected degraded journal component, got %+v", status)
	}
}
