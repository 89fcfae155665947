package linestate

import (
	"sort"
	"sync"
)

type ChangeKind uint8

const (
	// ChangeRecord means one or more fields of the line's record changed.
	ChangeRecord ChangeKind = 1 << iota
	// ChangeVisibility means the active mask was replaced, so anything gated
	// on activity must be recomputed.
	ChangeVisibility
	// ChangeReset means the line was rewritten by a snapshot.
	ChangeReset
)

func (k ChangeKind) Has(flag ChangeKind) bool {
	return k&flag == flag
}

func (k ChangeKind) String() string {
	parts := ""
	add := func(name string) {
		if parts != "" {
			parts += "|"
		}
		parts += name
	}
	if k.Has(ChangeReset) {
		add("reset")
	}
	if k.Has(ChangeRecord) {
		add("record")
	}
	if k.Has(ChangeVisibility) {
		add("visibility")
	}
	if parts == "" {
		return "none"
	}
	return parts
}

type Change struct {
	LineID int
	Kind   ChangeKind
}

// Subscription collects per-line changes until the owner drains them. Kinds
// for the same line are merged, so a slow reader never blocks the store and
// never sees an unbounded backlog.
type Subscription struct {
	mu      sync.Mutex
	pending map[int]ChangeKind
	ready   chan struct{}
	closed  bool
}

func newSubscription() *Subscription {
	return &Subscription{
		pending: map[int]ChangeKind{},
		ready:   make(chan struct{}, 1),
	}
}

// Ready receives a value whenever changes are waiting to be drained.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns the pending changes ordered by line id and clears them.
func (s *Subscription) Drain() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	changes := make([]Change, 0, len(s.pending))
	for id, kind := range s.pending {
		changes = append(changes, Change{LineID: id, Kind: kind})
	}
	s.pending = map[int]ChangeKind{}
	sort.Slice(changes, func(i, j int) bool { return changes[i].LineID < changes[j].LineID })
	return changes
}

func (s *Subscription) push(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for _, change := range changes {
		s.pending[change.LineID] |= change.Kind
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = map[int]ChangeKind{}
}
