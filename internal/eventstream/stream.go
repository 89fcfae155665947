package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/dwizi/switchboard/internal/heartbeat"
)

type Handler interface {
	Handle(event string, data []byte) error
}

type Config struct {
	URL            string
	HTTPClient     *http.Client
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
	Reporter       heartbeat.Reporter
	// OnReconnect runs after every successful connect except the first. It
	// is called on the stream goroutine and must not block.
	OnReconnect func(ctx context.Context)
}

// Stream keeps one subscription to the controller's /events channel alive
// for the lifetime of a context.
type Stream struct {
	url            string
	httpClient     *http.Client
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
	reporter       heartbeat.Reporter
	onReconnect    func(context.Context)
	handler        Handler
	connects       atomic.Int64
	messages       atomic.Int64
}

func NewStream(cfg Config, handler Handler) *Stream {
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 2 * time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initial {
		maxBackoff = 15 * initial
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Stream{
		url:            strings.TrimSpace(cfg.URL),
		httpClient:     httpClient,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		logger:         logger,
		reporter:       cfg.Reporter,
		onReconnect:    cfg.OnReconnect,
		handler:        handler,
	}
}

// Connects reports how many times the channel has been opened.
func (s *Stream) Connects() int64 {
	return s.connects.Load()
}

func (s *Stream) Messages() int64 {
	return s.messages.Load()
}

// Run blocks until ctx is done. Transport failures never end it; they are
// reported and retried with exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	if s.url == "" {
		s.report(func(r heartbeat.Reporter) { r.Disabled(heartbeat.ComponentStream, "events url missing") })
		s.logger.Info("push channel disabled, url missing")
		<-ctx.Done()
		return nil
	}
	s.report(func(r heartbeat.Reporter) { r.Starting(heartbeat.ComponentStream, "connecting") })
	s.logger.Info("push channel starting", "url", s.url)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialBackoff
	policy.MaxInterval = s.maxBackoff
	policy.MaxElapsedTime = 0
	policy.Reset()

	for {
		err := s.subscribe(ctx, policy)
		if ctx.Err() != nil {
			s.report(func(r heartbeat.Reporter) { r.Stopped(heartbeat.ComponentStream, "stopped") })
			s.logger.Info("push channel stopped")
			return nil
		}
		if err == nil {
			err = io.EOF
		}
		delay := policy.NextBackOff()
		s.report(func(r heartbeat.Reporter) { r.Degrade(heartbeat.ComponentStream, "disconnected", err) })
		s.logger.Warn("push channel ended, reconnecting", "error", err, "delay", delay.String())
		select {
		case <-ctx.Done():
			s.report(func(r heartbeat.Reporter) { r.Stopped(heartbeat.ComponentStream, "stopped") })
			s.logger.Info("push channel stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *Stream) subscribe(ctx context.Context, policy backoff.BackOff) error {
	client := sse.NewClient(s.url)
	client.Connection = s.httpClient
	client.ReconnectStrategy = &backoff.StopBackOff{}
	client.ResponseValidator = func(c *sse.Client, res *http.Response) error {
		if res.StatusCode != http.StatusOK {
			_ = res.Body.Close()
			return fmt.Errorf("push channel refused: HTTP %d", res.StatusCode)
		}
		policy.Reset()
		s.connected(ctx)
		return nil
	}
	return client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if msg == nil {
			return
		}
		s.messages.Add(1)
		s.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentStream, "message received") })
		if err := s.handler.Handle(string(msg.Event), msg.Data); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("push message rejected", "event", string(msg.Event), "error", err)
		}
	})
}

func (s *Stream) connected(ctx context.Context) {
	count := s.connects.Add(1)
	s.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentStream, "connected") })
	if count == 1 {
		s.logger.Info("push channel connected")
		return
	}
	s.logger.Info("push channel reconnected", "connects", count)
	if s.onReconnect != nil {
		s.onReconnect(ctx)
	}
}

func (s *Stream) report(fn func(heartbeat.Reporter)) {
	if s.reporter != nil {
		fn(s.reporter)
	}
}
