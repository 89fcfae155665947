// Package resync re-runs the bootstrap fetch after a push-channel reconnect
// and, optionally, on a cron schedule.
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/switchboard/internal/heartbeat"
)

const (
	ReasonReconnect = "reconnect"
	ReasonSchedule  = "schedule"
	ReasonManual    = "manual"
)

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Bootstrapper interface {
	Resync(ctx context.Context) error
}

// ParseSchedule accepts a five-field cron expression or a descriptor such as
// "@every 10m". An empty expression disables scheduled resyncs.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	if expr == "" {
		return nil, nil
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse resync schedule: %w", err)
	}
	return schedule, nil
}

type Service struct {
	target   Bootstrapper
	schedule cron.Schedule
	logger   *slog.Logger
	reporter heartbeat.Reporter
	trigger  chan string
	now      func() time.Time
	runs     atomic.Int64
}

func New(target Bootstrapper, schedule cron.Schedule, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		target:   target,
		schedule: schedule,
		logger:   logger,
		trigger:  make(chan string, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Trigger requests a resync without blocking. Requests made while one is
// already pending are merged into it; it reports whether the request was
// queued.
func (s *Service) Trigger(reason string) bool {
	select {
	case s.trigger <- reason:
		return true
	default:
		return false
	}
}

func (s *Service) Runs() int64 {
	return s.runs.Load()
}

func (s *Service) Start(ctx context.Context) error {
	if s.target == nil {
		if s.reporter != nil {
			s.reporter.Disabled(heartbeat.ComponentResync, "bootstrapper missing")
		}
		<-ctx.Done()
		return nil
	}
	if s.reporter != nil {
		s.reporter.Starting(heartbeat.ComponentResync, "started")
	}
	if s.schedule != nil {
		s.logger.Info("resync started", "next_run", s.schedule.Next(s.now()).Format(time.RFC3339))
	} else {
		s.logger.Info("resync started", "schedule", "disabled")
	}
	for {
		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if s.schedule != nil {
			wait := s.schedule.Next(s.now()).Sub(s.now())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			due = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if s.reporter != nil {
				s.reporter.Stopped(heartbeat.ComponentResync, "stopped")
			}
			s.logger.Info("resync stopped")
			return nil
		case reason := <-s.trigger:
			s.run(ctx, reason)
		case <-due:
			s.run(ctx, ReasonSchedule)
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Service) run(ctx context.Context, reason string) {
	startedAt := time.Now()
	err := s.target.Resync(ctx)
	s.runs.Add(1)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if s.reporter != nil {
			s.reporter.Degrade(heartbeat.ComponentResync, "resync failed", err)
		}
		s.logger.Error("resync failed", "reason", reason, "error", err)
		return
	}
	if s.reporter != nil {
		s.reporter.Beat(heartbeat.ComponentResync, "resync completed")
	}
	s.logger.Info("resync completed", "reason", reason, "duration", time.Since(startedAt).String())
}
