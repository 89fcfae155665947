package controllerclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwizi/switchboard/internal/config"
	"github.com/dwizi/switchboard/internal/dasherr"
)

func TestClientStatusAndActiveMask(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/status":
			_, _ = w.Write([]byte(`{"lines":[{"id":0,"status":"idle","phone":"100"},{"id":1,"status":"ring"}]}`))
		case "/api/active":
			_, _ = w.Write([]byte(`{"mask":5}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	lines, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	mask, err := client.ActiveMask(context.Background())
	if err != nil {
		t.Fatalf("active mask: %v", err)
	}
	if mask != 5 {
		t.Fatalf("expected mask 5, got %d", mask)
	}
}

func TestClientSnapshotKeepsPartialResults(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			_, _ = w.Write([]byte(`{"lines":[{"id":0}]}`))
		case "/api/active":
			_, _ = w.Write([]byte(`<html>oops</html>`))
		}
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	snapshot, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.LinesErr != nil || len(snapshot.Lines) != 1 {
		t.Fatalf("expected status half to succeed, got %v %d", snapshot.LinesErr, len(snapshot.Lines))
	}
	if !errors.Is(snapshot.MaskErr, dasherr.ErrTransport) {
		t.Fatalf("expected transport error for non-JSON mask, got %v", snapshot.MaskErr)
	}
	if snapshot.FetchedAt.IsZero() {
		t.Fatal("expected fetched timestamp")
	}
}

func TestClientToggleActiveSendsForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/active/toggle" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type: %s", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("line") != "3" {
			t.Errorf("expected line=3, got %q", r.PostForm.Get("line"))
		}
		_, _ = w.Write([]byte(`{"mask":9,"active":[0,3]}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	response, err := client.ToggleActive(context.Background(), 3)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if response.Mask != 9 {
		t.Fatalf("expected mask 9, got %d", response.Mask)
	}
	if len(response.Active) != 2 || response.Active[1] != 3 {
		t.Fatalf("unexpected active list: %v", response.Active)
	}
}

func TestClientSetPhoneAcceptsEmptyBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.URL.Path != "/api/line/phone" || r.PostForm.Get("phone") != "5551234" || r.PostForm.Get("line") != "2" {
			t.Errorf("unexpected request: %s %v", r.URL.Path, r.PostForm)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	if err := client.SetPhone(context.Background(), 2, "5551234"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestClientSetNameClassifiesServerReason(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"name already in use"}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	err := client.SetName(context.Background(), 1, "Alice")
	if !errors.Is(err, dasherr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !errors.Is(err, dasherr.ErrDuplicate) {
		t.Fatalf("expected duplicate reason, got %v", err)
	}
	if !strings.Contains(err.Error(), "name already in use") {
		t.Fatalf("expected server reason in error, got %v", err)
	}
}

func TestClientGenericServerFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	err := client.SetName(context.Background(), 1, "Alice")
	if !errors.Is(err, dasherr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if dasherr.IsValidation(err) {
		t.Fatalf("expected generic failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestClientTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := &Client{baseURL: server.URL, http: server.Client()}
	server.Close()

	_, err := client.ActiveMask(context.Background())
	if !errors.Is(err, dasherr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewRejectsHalfConfiguredClientCert(t *testing.T) {
	t.Parallel()

	_, err := New(config.Config{ControllerURL: "http://exchange.local", TLSCertFile: "/tmp/cert.pem"})
	if err == nil {
		t.Fatal("expected error when key file is missing")
	}
}

func TestNewTrimsBaseURL(t *testing.T) {
	t.Parallel()

	client, err := New(config.Config{ControllerURL: " http://exchange.local/ ", HTTPTimeoutSec: 5})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.EventsURL() != "http://exchange.local/events" {
		t.Fatalf("unexpected events url: %s", client.EventsURL())
	}
	if client.http.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", client.http.Timeout)
	}
	if streaming := client.StreamingHTTPClient(); streaming.Timeout != 0 {
		t.Fatalf("expected streaming client without timeout, got %s", streaming.Timeout)
	}
}
