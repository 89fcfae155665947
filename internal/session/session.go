// Package session owns one dashboard session: the line state store and
// every component that reads or writes it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dwizi/switchboard/internal/config"
	"github.com/dwizi/switchboard/internal/controllerclient"
	"github.com/dwizi/switchboard/internal/eventstream"
	"github.com/dwizi/switchboard/internal/fieldedit"
	"github.com/dwizi/switchboard/internal/heartbeat"
	"github.com/dwizi/switchboard/internal/journal"
	"github.com/dwizi/switchboard/internal/linestate"
	"github.com/dwizi/switchboard/internal/resync"
)

type Session struct {
	id       string
	cfg      config.Config
	logger   *slog.Logger
	store    *linestate.Store
	client   *controllerclient.Client
	adapter  *eventstream.Adapter
	stream   *eventstream.Stream
	editor   *fieldedit.Controller
	health   *heartbeat.Registry
	monitor  *heartbeat.Monitor
	resync   *resync.Service
	journal  *journal.Store
	recorder *journal.Recorder

	ready     chan struct{}
	readyOnce sync.Once
}

// BootstrapResult describes one snapshot-plus-mask fetch. Either half may
// fail on its own; whatever arrived is still applied.
type BootstrapResult struct {
	Accepted  int
	Entries   int
	MaskOK    bool
	LinesOK   bool
	FetchedAt time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := resync.ParseSchedule(cfg.ResyncSchedule)
	if err != nil {
		return nil, err
	}
	client, err := controllerclient.New(cfg)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger = logger.With("session_id", id)
	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: logger,
		client: client,
		health: heartbeat.NewRegistry(),
		ready:  make(chan struct{}),
	}
	s.store = linestate.New(cfg.LineCount, logger.With("component", "linestate"))
	s.adapter = eventstream.NewAdapter(s.store, logger.With("component", "eventstream"))
	s.editor = fieldedit.New(s.store, client, logger.With("component", "fieldedit"))
	s.resync = resync.New(s, schedule, logger.With("component", "resync"))
	s.resync.SetHeartbeatReporter(s.health)
	s.stream = eventstream.NewStream(eventstream.Config{
		URL:            client.EventsURL(),
		HTTPClient:     client.StreamingHTTPClient(),
		InitialBackoff: time.Duration(cfg.ReconnectSec) * time.Second,
		Logger:         logger.With("component", "stream"),
		Reporter:       s.health,
		OnReconnect:    s.handleReconnect,
	}, s.adapter)
	s.monitor = heartbeat.NewMonitor(s.health, heartbeat.MonitorConfig{
		Interval: 5 * time.Second,
		Logger:   logger.With("component", "heartbeat"),
	})

	if cfg.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		journalStore, err := journal.New(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		if err := journalStore.AutoMigrate(context.Background()); err != nil {
			journalStore.Close()
			return nil, err
		}
		s.journal = journalStore
	}
	s.recorder = journal.NewRecorder(s.journal, s.store, id, logger.With("component", "journal"))
	s.recorder.SetHeartbeatReporter(s.health)
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Store() *linestate.Store {
	return s.store
}

func (s *Session) Editor() *fieldedit.Controller {
	return s.editor
}

func (s *Session) Health() *heartbeat.Registry {
	return s.health
}

func (s *Session) Journal() *journal.Store {
	return s.journal
}

// StreamStats combines the push channel's transport counters with the
// adapter's per-message outcome counters.
type StreamStats struct {
	eventstream.Stats
	Connects int64
	Messages int64
}

func (s *Session) Stats() StreamStats {
	return StreamStats{
		Stats:    s.adapter.Stats(),
		Connects: s.stream.Connects(),
		Messages: s.stream.Messages(),
	}
}

// Ready is closed once the first bootstrap has settled, successfully or not.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Bootstrap fetches the snapshot and the mask concurrently and merges
// whatever arrived. Push deltas that land while it runs are merged too.
func (s *Session) Bootstrap(ctx context.Context) (BootstrapResult, error) {
	s.health.Starting(heartbeat.ComponentBootstrap, "fetching snapshot")
	snapshot, err := s.client.Snapshot(ctx)
	if err != nil {
		return BootstrapResult{}, err
	}
	result := BootstrapResult{FetchedAt: snapshot.FetchedAt}
	if snapshot.LinesErr == nil {
		result.LinesOK = true
		result.Entries = len(snapshot.Lines)
		result.Accepted = s.store.BootstrapJSON(snapshot.Lines)
	}
	if snapshot.MaskErr == nil {
		result.MaskOK = true
		s.store.ApplyMaskUpdate(snapshot.Mask)
	}

	if err := errors.Join(snapshot.LinesErr, snapshot.MaskErr); err != nil {
		s.health.Degrade(heartbeat.ComponentBootstrap, "bootstrap incomplete", err)
		s.logger.Warn("bootstrap incomplete", "lines_ok", result.LinesOK, "mask_ok", result.MaskOK, "error", err)
		return result, fmt.Errorf("bootstrap: %w", err)
	}
	s.health.Beat(heartbeat.ComponentBootstrap, "snapshot applied")
	s.logger.Info("bootstrap applied", "accepted", result.Accepted, "entries", result.Entries, "mask", uint64(s.store.Mask()))
	return result, nil
}

// Resync re-runs the bootstrap. It satisfies resync.Bootstrapper.
func (s *Session) Resync(ctx context.Context) error {
	_, err := s.Bootstrap(ctx)
	return err
}

// RequestResync queues a resync on the session's resync loop.
func (s *Session) RequestResync() bool {
	return s.resync.Trigger(resync.ReasonManual)
}

// ToggleActive flips a line's activity on the controller and adopts the
// mask the controller answers with. The mask is never changed locally.
func (s *Session) ToggleActive(ctx context.Context, line int) (controllerclient.ToggleResponse, error) {
	if line < 0 || line >= s.store.Lines() {
		return controllerclient.ToggleResponse{}, fmt.Errorf("line %d out of range 0..%d", line, s.store.Lines()-1)
	}
	response, err := s.client.ToggleActive(ctx, line)
	if err != nil {
		s.logger.Warn("toggle failed", "line_id", line, "error", err)
		return controllerclient.ToggleResponse{}, err
	}
	s.store.ApplyMaskUpdate(response.Mask)
	s.logger.Info("line toggled", "line_id", line, "active", s.store.IsActive(line))
	return response, nil
}

// Run starts the initial bootstrap and the push channel together and keeps
// the session alive until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session starting", "controller", s.client.BaseURL(), "lines", s.store.Lines())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer s.markReady()
		if _, err := s.Bootstrap(groupCtx); err != nil && groupCtx.Err() == nil {
			s.logger.Warn("initial bootstrap failed, waiting for push snapshot or resync", "error", err)
		}
		return nil
	})
	group.Go(func() error {
		return runMonitored(groupCtx, s.health, heartbeat.ComponentStream, s.stream.Run)
	})
	group.Go(func() error {
		return runMonitored(groupCtx, s.health, heartbeat.ComponentResync, s.resync.Start)
	})
	group.Go(func() error {
		return runMonitored(groupCtx, s.health, heartbeat.ComponentJournal, s.recorder.Start)
	})
	group.Go(func() error {
		return s.monitor.Start(groupCtx)
	})

	err := group.Wait()
	s.markReady()
	s.logger.Info("session stopped")
	return err
}

func (s *Session) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

func (s *Session) handleReconnect(ctx context.Context) {
	if !s.cfg.ResyncOnReconnect {
		return
	}
	if s.resync.Trigger(resync.ReasonReconnect) {
		s.logger.Info("resync requested after reconnect")
	}
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	run func(context.Context) error,
) error {
	err := run(ctx)
	if err != nil && ctx.Err() == nil {
		if reporter != nil {
			reporter.Degrade(component, "component failed", err)
		}
		return err
	}
	return nil
}
