package fieldedit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/switchboard/internal/dasherr"
	"github.com/dwizi/switchboard/internal/linestate"
)

type call struct {
	field linestate.Field
	line  int
	value string
}

type fakePersister struct {
	mu    sync.Mutex
	calls []call
	err   error
	delay time.Duration
}

func (p *fakePersister) SetPhone(ctx context.Context, line int, phone string) error {
	return p.record(linestate.FieldPhone, line, phone)
}

func (p *fakePersister) SetName(ctx context.Context, line int, name string) error {
	return p.record(linestate.FieldName, line, name)
}

func (p *fakePersister) record(field linestate.Field, line int, value string) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{field: field, line: line, value: value})
	return p.err
}

func (p *fakePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestController(t *testing.T, persister *fakePersister) (*Controller, *linestate.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := linestate.New(8, logger)
	store.BootstrapJSON(nil)
	for _, raw := range []string{
		`{"id":1,"status":"line_idle","phone":"100","name":"Alice"}`,
		`{"id":2,"status":"line_idle","phone":"200","name":"Bob"}`,
	} {
		patch, err := linestate.DecodeRecord([]byte(raw))
		if err != nil {
			t.Fatalf("decode fixture: %v", err)
		}
		store.ApplyStatusDelta(patch.ID, patch)
	}
	return New(store, persister, logger), store
}

func TestCommitRejectsTooLongPhoneLocally(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	controller, store := newTestController(t, persister)

	err := controller.Commit(context.Background(), 1, linestate.FieldPhone, "123456789012345678901234567890123")
	if !errors.Is(err, dasherr.ErrTooLong) {
		t.Fatalf("expected too long error, got %v", err)
	}
	record, _ := store.Record(1)
	if record.Phone != "100" {
		t.Fatalf("expected cached phone unchanged, got %q", record.Phone)
	}
	if persister.count() != 0 {
		t.Fatalf("expected no network call, got %d", persister.count())
	}
	if controller.Status() != dasherr.Describe(err) {
		t.Fatalf("unexpected status text: %q", controller.Status())
	}
}

func TestCommitRejectsInvalidCharacters(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	controller, _ := newTestController(t, persister)

	err := controller.Commit(context.Background(), 1, linestate.FieldPhone, "55-12")
	if !errors.Is(err, dasherr.ErrInvalidCharacters) {
		t.Fatalf("expected invalid characters error, got %v", err)
	}
	if persister.count() != 0 {
		t.Fatalf("expected no network call, got %d", persister.count())
	}
}

func TestValidateSyntaxClassifiesPhoneAndName(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(t, &fakePersister{})
	phone := Key{Line: 1, Field: linestate.FieldPhone}
	name := Key{Line: 1, Field: linestate.FieldName}
	cases := []struct {
		key   Key
		value string
		want  error
	}{
		{key: phone, value: "", want: nil},
		{key: phone, value: "0123456789", want: nil},
		{key: phone, value: "12a", want: dasherr.ErrInvalidCharacters},
		{key: phone, value: "+1", want: dasherr.ErrInvalidCharacters},
		{key: phone, value: "١٢٣", want: dasherr.ErrInvalidCharacters},
		{key: phone, value: "123456789012345678901234567890123", want: dasherr.ErrTooLong},
		{key: name, value: "Front desk #2", want: nil},
		{key: name, value: "Ünïcödé nämé that is longer than 32", want: dasherr.ErrTooLong},
	}
	for _, tc := range cases {
		err := controller.validateSyntax(tc.key, tc.value)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s %q: unexpected error %v", tc.key.Field, tc.value, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s %q: expected %v, got %v", tc.key.Field, tc.value, tc.want, err)
		}
	}
}

func TestCommitNoOpWhenUnchanged(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	controller, _ := newTestController(t, persister)

	if err := controller.Commit(context.Background(), 1, linestate.FieldName, "  Alice "); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if persister.count() != 0 {
		t.Fatalf("expected no network call for unchanged value, got %d", persister.count())
	}
}

func TestCommitDuplicateIsRejectedBeforeNetwork(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	controller, store := newTestController(t, persister)

	err := controller.Commit(context.Background(), 2, linestate.FieldName, " alice ")
	if !errors.Is(err, dasherr.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if persister.count() != 0 {
		t.Fatalf("expected no network call, got %d", persister.count())
	}
	record, _ := store.Record(2)
	if record.Name != "Bob" {
		t.Fatalf("expected store unchanged, got %q", record.Name)
	}
}

func TestCommitSuccessUpdatesStore(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	controller, store := newTestController(t, persister)

	if err := controller.Commit(context.Background(), 3, linestate.FieldPhone, " 300 "); err != nil {
		t.Fatalf("commit: %v", err)
	}
	record, ok := store.Record(3)
	if !ok || record.Phone != "300" {
		t.Fatalf("expected cached phone 300, got %+v", record)
	}
	if persister.calls[0] != (call{field: linestate.FieldPhone, line: 3, value: "300"}) {
		t.Fatalf("unexpected persister call: %+v", persister.calls[0])
	}
	if controller.State(3, linestate.FieldPhone) != StateIdle {
		t.Fatalf("expected idle after success, got %s", controller.State(3, linestate.FieldPhone))
	}
}

func TestSubmitFailureRollsBackAndKeepsFocus(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{err: fmt.Errorf("%w: %w: phone already in use", dasherr.ErrPersistence, dasherr.ErrDuplicate)}
	controller, store := newTestController(t, persister)

	if err := controller.Focus(1, linestate.FieldPhone); err != nil {
		t.Fatalf("focus: %v", err)
	}
	controller.Input(1, linestate.FieldPhone, "777")
	err := controller.Submit(context.Background(), 1, linestate.FieldPhone)
	if !errors.Is(err, dasherr.ErrDuplicate) {
		t.Fatalf("expected server duplicate, got %v", err)
	}
	if controller.State(1, linestate.FieldPhone) != StateFocusedWithError {
		t.Fatalf("expected focused-with-error, got %s", controller.State(1, linestate.FieldPhone))
	}
	if got := controller.Display(1, linestate.FieldPhone); got != "100" {
		t.Fatalf("expected display rolled back to 100, got %q", got)
	}
	if record, _ := store.Record(1); record.Phone != "100" {
		t.Fatalf("expected store unchanged, got %q", record.Phone)
	}
	if !errors.Is(controller.LastError(1, linestate.FieldPhone), dasherr.ErrDuplicate) {
		t.Fatal("expected last error to be kept")
	}
}

func TestBlurFailureEndsIdleWithError(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{err: fmt.Errorf("%w: HTTP 500", dasherr.ErrPersistence)}
	controller, _ := newTestController(t, persister)

	_ = controller.Focus(2, linestate.FieldName)
	controller.Input(2, linestate.FieldName, "Carol")
	if err := controller.Blur(context.Background(), 2, linestate.FieldName); err == nil {
		t.Fatal("expected blur commit to fail")
	}
	if controller.State(2, linestate.FieldName) != StateIdle {
		t.Fatalf("expected idle after blur, got %s", controller.State(2, linestate.FieldName))
	}
	if got := controller.Display(2, linestate.FieldName); got != "Bob" {
		t.Fatalf("expected display to show store value, got %q", got)
	}
	if controller.LastError(2, linestate.FieldName) == nil {
		t.Fatal("expected last error after failed blur")
	}
}

func TestFocusedFieldIgnoresStoreUpdates(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	controller, store := newTestController(t, persister)

	_ = controller.Focus(1, linestate.FieldName)
	controller.Input(1, linestate.FieldName, "Ali")

	name := "Alicia"
	store.ApplyStatusDelta(1, linestate.Patch{Name: &name})
	if got := controller.Display(1, linestate.FieldName); got != "Ali" {
		t.Fatalf("expected typed buffer to survive store update, got %q", got)
	}

	controller.Input(1, linestate.FieldName, "Alicia")
	if err := controller.Blur(context.Background(), 1, linestate.FieldName); err != nil {
		t.Fatalf("blur: %v", err)
	}
	if got := controller.Display(1, linestate.FieldName); got != "Alicia" {
		t.Fatalf("expected display to equal store after blur, got %q", got)
	}
}

func TestInputSanitizesPhone(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(t, &fakePersister{})
	_ = controller.Focus(1, linestate.FieldPhone)
	if got := controller.Input(1, linestate.FieldPhone, "+1 (555) 01-23"); got != "15550123" {
		t.Fatalf("expected digits only, got %q", got)
	}
	long := "1234567890123456789012345678901234567890"
	if got := controller.Input(1, linestate.FieldPhone, long); len(got) != MaxLength {
		t.Fatalf("expected input capped at %d, got %d", MaxLength, len(got))
	}
	if got := controller.Input(4, linestate.FieldPhone, "123"); got != "" {
		t.Fatalf("expected unfocused input to be ignored, got %q", got)
	}
}

func TestConcurrentCommitsOfSameValueProduceOneOwner(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{delay: 20 * time.Millisecond}
	controller, store := newTestController(t, persister)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for index, line := range []int{3, 4} {
		wg.Add(1)
		go func(index, line int) {
			defer wg.Done()
			errs[index] = controller.Commit(context.Background(), line, linestate.FieldPhone, "5550000")
		}(index, line)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, dasherr.ErrDuplicate) {
				t.Fatalf("expected duplicate error, got %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one rejected commit, got %d", failures)
	}
	if persister.count() != 1 {
		t.Fatalf("expected one network call, got %d", persister.count())
	}
	owners := 0
	for _, record := range store.All() {
		if record.Phone == "5550000" {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("expected one owner of the phone, got %d", owners)
	}
}

func TestFocusRejectsUnknownLine(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(t, &fakePersister{})
	if err := controller.Focus(8, linestate.FieldName); err == nil {
		t.Fatal("expected out of range line to be rejected")
	}
	if err := controller.Focus(1, linestate.Field("status")); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
