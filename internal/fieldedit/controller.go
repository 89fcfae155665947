// Package fieldedit runs the edit and commit lifecycle of the two
// uniqueness-constrained line fields, name and phone.
package fieldedit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dwizi/switchboard/internal/dasherr"
	"github.com/dwizi/switchboard/internal/linestate"
)

type Persister interface {
	SetPhone(ctx context.Context, line int, phone string) error
	SetName(ctx context.Context, line int, name string) error
}

var fieldRules = map[linestate.Field]string{
	linestate.FieldPhone: fmt.Sprintf("omitempty,max=%d,number", MaxLength),
	linestate.FieldName:  fmt.Sprintf("omitempty,max=%d", MaxLength),
}

type Controller struct {
	store     *linestate.Store
	persister Persister
	validator *validator.Validate
	logger    *slog.Logger

	mu     sync.Mutex
	fields map[Key]*fieldState
	status string

	// One commit per field at a time across all lines, so the duplicate
	// pre-check always sees the previous commit's result.
	slots map[linestate.Field]chan struct{}
}

func New(store *linestate.Store, persister Persister, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     store,
		persister: persister,
		validator: validator.New(),
		logger:    logger,
		fields:    map[Key]*fieldState{},
		slots: map[linestate.Field]chan struct{}{
			linestate.FieldPhone: make(chan struct{}, 1),
			linestate.FieldName:  make(chan struct{}, 1),
		},
	}
}

// Focus starts editing a cell. The store's current value becomes the
// last known good value and the initial edit buffer.
func (c *Controller) Focus(line int, field linestate.Field) error {
	if err := c.checkKey(line, field); err != nil {
		return err
	}
	key := Key{Line: line, Field: field}
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.fieldLocked(key)
	switch fs.state {
	case StateCommitting:
		return fmt.Errorf("focus %s for line %d: %w", field, line, dasherr.ErrCommitInProgress)
	case StateFocused, StateFocusedWithError:
		return nil
	}
	current := c.storeValue(key)
	fs.state = StateFocused
	fs.lastKnownGood = current
	fs.buffer = current
	fs.lastErr = nil
	return nil
}

// Input replaces the edit buffer with the sanitized text and returns what
// should be displayed. It has no effect on a cell that is not focused.
func (c *Controller) Input(line int, field linestate.Field, text string) string {
	key := Key{Line: line, Field: field}
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := c.fields[key]
	if !ok || (fs.state != StateFocused && fs.state != StateFocusedWithError) {
		return c.displayLocked(key)
	}
	fs.buffer = Sanitize(field, text)
	fs.state = StateFocused
	return fs.buffer
}

// Display is the edit buffer while the cell holds focus and the store's
// value otherwise. Store updates never reach a focused cell.
func (c *Controller) Display(line int, field linestate.Field) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayLocked(Key{Line: line, Field: field})
}

func (c *Controller) State(line int, field linestate.Field) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fs, ok := c.fields[Key{Line: line, Field: field}]; ok {
		return fs.state
	}
	return StateIdle
}

func (c *Controller) LastError(line int, field linestate.Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fs, ok := c.fields[Key{Line: line, Field: field}]; ok {
		return fs.lastErr
	}
	return nil
}

// Status is the transient text describing the most recent commit outcome.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Submit commits the buffer of a focused cell. On failure the cell keeps
// focus with the buffer rolled back.
func (c *Controller) Submit(ctx context.Context, line int, field linestate.Field) error {
	buffer, ok := c.focusedBuffer(Key{Line: line, Field: field})
	if !ok {
		return nil
	}
	return c.commit(ctx, Key{Line: line, Field: field}, buffer, true)
}

// Blur commits the buffer of a focused cell and releases focus whatever the
// outcome.
func (c *Controller) Blur(ctx context.Context, line int, field linestate.Field) error {
	buffer, ok := c.focusedBuffer(Key{Line: line, Field: field})
	if !ok {
		return nil
	}
	return c.commit(ctx, Key{Line: line, Field: field}, buffer, false)
}

// Commit runs the full commit pipeline for a value that was not typed into
// a focused cell, using the store's current value as last known good.
func (c *Controller) Commit(ctx context.Context, line int, field linestate.Field, input string) error {
	if err := c.checkKey(line, field); err != nil {
		return err
	}
	key := Key{Line: line, Field: field}
	c.mu.Lock()
	fs := c.fieldLocked(key)
	if fs.state == StateCommitting {
		c.mu.Unlock()
		return fmt.Errorf("commit %s for line %d: %w", field, line, dasherr.ErrCommitInProgress)
	}
	if !fs.holdsFocus() {
		fs.lastKnownGood = c.storeValue(key)
	}
	c.mu.Unlock()
	return c.commit(ctx, key, input, false)
}

func (c *Controller) commit(ctx context.Context, key Key, input string, keepFocus bool) error {
	value := strings.TrimSpace(input)

	c.mu.Lock()
	fs := c.fieldLocked(key)
	if fs.state == StateCommitting {
		c.mu.Unlock()
		return fmt.Errorf("commit %s for line %d: %w", key.Field, key.Line, dasherr.ErrCommitInProgress)
	}
	if value == fs.lastKnownGood {
		fs.state = StateIdle
		fs.buffer = ""
		fs.lastErr = nil
		c.mu.Unlock()
		return nil
	}
	if err := c.validateSyntax(key, value); err != nil {
		c.failLocked(fs, err, keepFocus)
		c.mu.Unlock()
		return err
	}
	fs.state = StateCommitting
	fs.buffer = value
	c.mu.Unlock()

	slot := c.slots[key.Field]
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		c.finish(key, ctx.Err(), keepFocus, value)
		return ctx.Err()
	}
	defer func() { <-slot }()

	if owner, conflict := c.store.FindConflict(key.Field, value, key.Line); conflict {
		err := fmt.Errorf("%s %q already used by line %d: %w", key.Field, value, owner.ID, dasherr.ErrDuplicate)
		c.finish(key, err, keepFocus, value)
		return err
	}

	var err error
	switch key.Field {
	case linestate.FieldPhone:
		err = c.persister.SetPhone(ctx, key.Line, value)
	case linestate.FieldName:
		err = c.persister.SetName(ctx, key.Line, value)
	}
	if err == nil {
		c.store.SetField(key.Line, key.Field, value)
	}
	c.finish(key, err, keepFocus, value)
	return err
}

func (c *Controller) finish(key Key, err error, keepFocus bool, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.fieldLocked(key)
	if err != nil {
		c.failLocked(fs, err, keepFocus)
		c.logger.Warn("field commit failed", "line_id", key.Line, "field", string(key.Field), "category", dasherr.Category(err), "error", err)
		return
	}
	fs.state = StateIdle
	fs.lastKnownGood = value
	fs.buffer = ""
	fs.lastErr = nil
	c.status = fmt.Sprintf("Saved %s for line %d.", key.Field, key.Line)
	c.logger.Info("field committed", "line_id", key.Line, "field", string(key.Field))
}

func (c *Controller) failLocked(fs *fieldState, err error, keepFocus bool) {
	fs.lastErr = err
	fs.buffer = fs.lastKnownGood
	if keepFocus {
		fs.state = StateFocusedWithError
	} else {
		fs.state = StateIdle
	}
	c.status = dasherr.Describe(err)
}

func (c *Controller) validateSyntax(key Key, value string) error {
	err := c.validator.Var(value, fieldRules[key.Field])
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		switch validationErrors[0].Tag() {
		case "max":
			return fmt.Errorf("%s for line %d: %w", key.Field, key.Line, dasherr.ErrTooLong)
		case "number":
			return fmt.Errorf("%s for line %d: %w", key.Field, key.Line, dasherr.ErrInvalidCharacters)
		}
	}
	return fmt.Errorf("%s for line %d: %w: %v", key.Field, key.Line, dasherr.ErrInvalidCharacters, err)
}

func (c *Controller) focusedBuffer(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := c.fields[key]
	if !ok || (fs.state != StateFocused && fs.state != StateFocusedWithError) {
		return "", false
	}
	return fs.buffer, true
}

func (c *Controller) displayLocked(key Key) string {
	if fs, ok := c.fields[key]; ok && fs.holdsFocus() {
		return fs.buffer
	}
	return c.storeValue(key)
}

func (c *Controller) storeValue(key Key) string {
	record, _ := c.store.Record(key.Line)
	return record.Value(key.Field)
}

func (c *Controller) fieldLocked(key Key) *fieldState {
	fs, ok := c.fields[key]
	if !ok {
		fs = &fieldState{}
		c.fields[key] = fs
	}
	return fs
}

func (c *Controller) checkKey(line int, field linestate.Field) error {
	if !field.Valid() {
		return fmt.Errorf("unknown field %q", field)
	}
	if line < 0 || line >= c.store.Lines() {
		return fmt.Errorf("line %d out of range 0..%d", line, c.store.Lines()-1)
	}
	return nil
}
