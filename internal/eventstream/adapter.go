// Package eventstream feeds the controller's push channel into the line
// state store.
package eventstream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/dwizi/switchboard/internal/dasherr"
	"github.com/dwizi/switchboard/internal/linemask"
	"github.com/dwizi/switchboard/internal/linestate"
)

const (
	EventMessage    = "message"
	EventLineStatus = "lineStatus"
	EventActiveMask = "activeMask"
)

type Stats struct {
	Snapshots    uint64
	StatusDeltas uint64
	MaskUpdates  uint64
	Dropped      uint64
	Ignored      uint64
}

// Adapter turns push messages into store mutations. It is stateless apart
// from its counters, so messages may arrive in any order and more than once.
type Adapter struct {
	store        *linestate.Store
	logger       *slog.Logger
	snapshots    atomic.Uint64
	statusDeltas atomic.Uint64
	maskUpdates  atomic.Uint64
	dropped      atomic.Uint64
	ignored      atomic.Uint64
}

func NewAdapter(store *linestate.Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{store: store, logger: logger}
}

// Handle applies one push message. A message that fails validation is
// logged, counted and returned as an error wrapping dasherr.ErrParse; the
// store is left untouched. Unknown event names are ignored.
func (a *Adapter) Handle(event string, data []byte) error {
	event = strings.TrimSpace(event)
	var err error
	switch event {
	case "", EventMessage:
		err = a.handleSnapshot(data)
	case EventLineStatus:
		err = a.handleLineStatus(data)
	case EventActiveMask:
		err = a.handleActiveMask(data)
	default:
		a.ignored.Add(1)
		a.logger.Debug("push event ignored", "event", event)
		return nil
	}
	if err != nil {
		a.dropped.Add(1)
		a.logger.Warn("push event dropped", "event", event, "error", err)
		return err
	}
	return nil
}

func (a *Adapter) Stats() Stats {
	return Stats{
		Snapshots:    a.snapshots.Load(),
		StatusDeltas: a.statusDeltas.Load(),
		MaskUpdates:  a.maskUpdates.Load(),
		Dropped:      a.dropped.Load(),
		Ignored:      a.ignored.Load(),
	}
}

func (a *Adapter) handleSnapshot(data []byte) error {
	fields, err := linestate.DecodeObject(data)
	if err != nil {
		return err
	}
	linesRaw, ok := fields["lines"]
	if !ok {
		return fmt.Errorf("%w: snapshot without lines", dasherr.ErrParse)
	}
	var lines []json.RawMessage
	if err := json.Unmarshal(linesRaw, &lines); err != nil || lines == nil {
		return fmt.Errorf("%w: lines is not an array", dasherr.ErrParse)
	}
	a.store.BootstrapJSON(lines)
	a.snapshots.Add(1)
	return nil
}

func (a *Adapter) handleLineStatus(data []byte) error {
	fields, err := linestate.DecodeObject(data)
	if err != nil {
		return err
	}
	lineRaw, ok := fields["line"]
	if !ok {
		return fmt.Errorf("%w: missing line", dasherr.ErrParse)
	}
	line, err := linestate.DecodeInt64(lineRaw)
	if err != nil {
		return fmt.Errorf("%w: line: %v", dasherr.ErrParse, err)
	}
	statusRaw, ok := fields["status"]
	if !ok {
		return fmt.Errorf("%w: missing status", dasherr.ErrParse)
	}
	if _, err := linestate.DecodeString(statusRaw); err != nil {
		return fmt.Errorf("%w: status: %v", dasherr.ErrParse, err)
	}
	patch, err := linestate.DecodeFields(fields)
	if err != nil {
		return err
	}
	if line < 0 || line >= int64(a.store.Lines()) {
		return fmt.Errorf("%w: line %d out of range", dasherr.ErrParse, line)
	}
	a.store.ApplyStatusDelta(int(line), patch)
	a.statusDeltas.Add(1)
	return nil
}

func (a *Adapter) handleActiveMask(data []byte) error {
	fields, err := linestate.DecodeObject(data)
	if err != nil {
		return err
	}
	maskRaw, ok := fields["mask"]
	if !ok {
		return fmt.Errorf("%w: missing mask", dasherr.ErrParse)
	}
	mask, err := linestate.DecodeInt64(maskRaw)
	if err != nil {
		return fmt.Errorf("%w: mask: %v", dasherr.ErrParse, err)
	}
	a.store.ApplyMaskUpdate(linemask.FromInt(mask))
	a.maskUpdates.Add(1)
	return nil
}
