package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/dwizi/switchboard/internal/heartbeat"
	"github.com/dwizi/switchboard/internal/linestate"
)

// Recorder writes one journal row per drained store change.
type Recorder struct {
	journal   *Store
	store     *linestate.Store
	sessionID string
	logger    *slog.Logger
	reporter  heartbeat.Reporter
}

func NewRecorder(journal *Store, store *linestate.Store, sessionID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		journal:   journal,
		store:     store,
		sessionID: sessionID,
		logger:    logger,
	}
}

func (r *Recorder) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	r.reporter = reporter
}

func (r *Recorder) Start(ctx context.Context) error {
	if r.journal == nil || r.store == nil {
		if r.reporter != nil {
			r.reporter.Disabled(heartbeat.ComponentJournal, "journal path not configured")
		}
		<-ctx.Done()
		return nil
	}
	// An unreachable journal only loses history; the session keeps running.
	if err := r.journal.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if r.reporter != nil {
			r.reporter.Degrade(heartbeat.ComponentJournal, "journal unreachable", err)
		}
		r.logger.Error("journal unreachable, recording disabled", "error", err)
		<-ctx.Done()
		return nil
	}
	sub := r.store.Subscribe()
	defer r.store.Unsubscribe(sub)
	if r.reporter != nil {
		r.reporter.Beat(heartbeat.ComponentJournal, "recording")
	}
	r.logger.Info("journal recorder started")
	for {
		select {
		case <-ctx.Done():
			if r.reporter != nil {
				r.reporter.Stopped(heartbeat.ComponentJournal, "stopped")
			}
			r.logger.Info("journal recorder stopped")
			return nil
		case <-sub.Ready():
			r.record(ctx, sub.Drain())
		}
	}
}

func (r *Recorder) record(ctx context.Context, changes []linestate.Change) {
	if len(changes) == 0 {
		return
	}
	mask := r.store.Mask()
	now := time.Now().UTC()
	for _, change := range changes {
		record, _ := r.store.Record(change.LineID)
		_, err := r.journal.Append(ctx, Event{
			SessionID: r.sessionID,
			LineID:    change.LineID,
			Kind:      change.Kind.String(),
			Status:    record.Status,
			Phone:     record.Phone,
			Name:      record.Name,
			Active:    r.store.IsActive(change.LineID),
			Mask:      mask,
			CreatedAt: now,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if r.reporter != nil {
				r.reporter.Degrade(heartbeat.ComponentJournal, "append failed", err)
			}
			r.logger.Error("journal append failed", "line_id", change.LineID, "error", err)
			continue
		}
	}
	if r.reporter != nil {
		r.reporter.Beat(heartbeat.ComponentJournal, "changes recorded")
	}
}
