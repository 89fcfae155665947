package eventstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwizi/switchboard/internal/heartbeat"
)

type recordedEvent struct {
	event string
	data  string
}

type recordingHandler struct {
	mu     sync.Mutex
	events []recordedEvent
	notify chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{notify: make(chan struct{}, 16)}
}

func (h *recordingHandler) Handle(event string, data []byte) error {
	h.mu.Lock()
	h.events = append(h.events, recordedEvent{event: event, data: string(data)})
	h.mu.Unlock()
	h.notify <- struct{}{}
	return nil
}

func (h *recordingHandler) snapshot() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedEvent(nil), h.events...)
}

func (h *recordingHandler) waitFor(t *testing.T, count int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for len(h.snapshot()) < count {
		select {
		case <-h.notify:
		case <-deadline:
			t.Fatalf("expected %d events, got %d", count, len(h.snapshot()))
		}
	}
}

func writeEvent(w http.ResponseWriter, event, data string) {
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func TestStreamDeliversNamedAndDefaultEvents(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "activeMask", `{"mask":3}`)
		writeEvent(w, "", `{"lines":[]}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	handler := newRecordingHandler()
	registry := heartbeat.NewRegistry()
	stream := NewStream(Config{
		URL:        server.URL + "/events",
		HTTPClient: server.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Reporter:   registry,
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	handler.waitFor(t, 2)
	events := handler.snapshot()
	if events[0].event != EventActiveMask || events[0].data != `{"mask":3}` {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].event != "" || events[1].data != `{"lines":[]}` {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if registry.ConnectionText() != heartbeat.ConnectionConnected {
		t.Fatalf("expected connected text, got %q", registry.ConnectionText())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	if status, _ := registry.Snapshot(0).Component(heartbeat.ComponentStream); status.State != heartbeat.StateStopped {
		t.Fatalf("expected stopped stream, got %s", status.State)
	}
}

func TestStreamReconnectsAndNotifies(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := requests.Add(1)
		if attempt == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "lineStatus", fmt.Sprintf(`{"line":%d,"status":"line_idle"}`, attempt))
		if attempt == 1 {
			return
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	handler := newRecordingHandler()
	reconnected := make(chan struct{}, 4)
	stream := NewStream(Config{
		URL:            server.URL + "/events",
		HTTPClient:     server.Client(),
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnReconnect: func(ctx context.Context) {
			reconnected <- struct{}{}
		},
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	handler.waitFor(t, 2)
	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("expected reconnect notification")
	}
	if stream.Connects() != 2 {
		t.Fatalf("expected two successful connects, got %d", stream.Connects())
	}
	if requests.Load() < 3 {
		t.Fatalf("expected refused attempt to be retried, got %d requests", requests.Load())
	}

	cancel()
	<-done
}

func TestStreamDisabledWithoutURL(t *testing.T) {
	t.Parallel()

	registry := heartbeat.NewRegistry()
	stream := NewStream(Config{Reporter: registry}, newRecordingHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := stream.Run(ctx); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	status, ok := registry.Snapshot(0).Component(heartbeat.ComponentStream)
	if !ok || status.State != heartbeat.StateDisabled {
		t.Fatalf("expected disabled stream, got %+v", status)
	}
}
