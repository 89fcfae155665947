// Package linestate owns the session's canonical table of line records and
// the active mask, and merges snapshots and deltas into them.
package linestate

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dwizi/switchboard/internal/linemask"
)

// Store is safe for concurrent use. Observers are notified after the mutation
// has been fully applied, never while the table is half updated.
type Store struct {
	mu      sync.RWMutex
	lines   int
	logger  *slog.Logger
	records map[int]Record
	mask    linemask.Mask
	subs    map[*Subscription]struct{}
}

func New(lines int, logger *slog.Logger) *Store {
	if lines < 1 {
		lines = 1
	}
	if lines > linemask.MaxLines {
		lines = linemask.MaxLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		lines:   lines,
		logger:  logger,
		records: map[int]Record{},
		subs:    map[*Subscription]struct{}{},
	}
}

func (s *Store) Lines() int {
	return s.lines
}

func (s *Store) validID(id int) bool {
	return id >= 0 && id < s.lines
}

// BootstrapJSON decodes raw snapshot entries and applies them as a snapshot.
// Entries with the wrong shape are skipped.
func (s *Store) BootstrapJSON(entries []json.RawMessage) int {
	patches := make([]Patch, 0, len(entries))
	for index, raw := range entries {
		patch, err := DecodeRecord(raw)
		if err != nil {
			s.logger.Warn("snapshot entry dropped", "index", index, "error", err)
			continue
		}
		patches = append(patches, patch)
	}
	return s.Bootstrap(patches)
}

// Bootstrap rewrites every line named by the snapshot from defaults plus the
// snapshot's fields. Lines the snapshot does not mention keep their record.
// It returns the number of entries accepted.
func (s *Store) Bootstrap(patches []Patch) int {
	accepted := 0
	s.mu.Lock()
	fresh := make(map[int]Record, len(patches))
	for _, patch := range patches {
		if !s.validID(patch.ID) {
			s.logger.Warn("snapshot entry dropped", "line_id", patch.ID, "error", "line id out of range")
			continue
		}
		base, seen := fresh[patch.ID]
		if !seen {
			base = newRecord(patch.ID)
		}
		fresh[patch.ID] = patch.apply(base)
		accepted++
	}
	for id, record := range fresh {
		s.records[id] = record
	}
	changes := make([]Change, 0, len(fresh))
	for id := range fresh {
		changes = append(changes, Change{LineID: id, Kind: ChangeReset | ChangeRecord})
	}
	s.mu.Unlock()

	s.publish(changes)
	s.logger.Debug("snapshot applied", "accepted", accepted, "entries", len(patches))
	return accepted
}

// ApplyStatusDelta merges the fields present in patch into line id, creating
// the record with defaults if the line has not been seen. Applying the same
// delta again is a no-op. It reports whether anything changed.
func (s *Store) ApplyStatusDelta(id int, patch Patch) bool {
	if !s.validID(id) {
		s.logger.Warn("status delta dropped", "line_id", id, "error", "line id out of range")
		return false
	}
	s.mu.Lock()
	current, seen := s.records[id]
	if !seen {
		current = newRecord(id)
	}
	patch.ID = id
	next := patch.apply(current)
	changed := !seen || next != current
	if changed {
		s.records[id] = next
	}
	s.mu.Unlock()

	if changed {
		s.publish([]Change{{LineID: id, Kind: ChangeRecord}})
	}
	return changed
}

// ApplyMaskUpdate replaces the mask with the value reported by the controller
// and flags every known line for a visibility refresh.
func (s *Store) ApplyMaskUpdate(mask linemask.Mask) {
	s.mu.Lock()
	s.mask = mask
	changes := make([]Change, 0, len(s.records))
	for id := range s.records {
		changes = append(changes, Change{LineID: id, Kind: ChangeVisibility})
	}
	s.mu.Unlock()

	s.publish(changes)
}

// SetField writes a committed name or phone back into the cache.
func (s *Store) SetField(id int, field Field, value string) bool {
	if !s.validID(id) || !field.Valid() {
		s.logger.Warn("field write dropped", "line_id", id, "field", string(field))
		return false
	}
	value = strings.TrimSpace(value)
	if field == FieldName {
		return s.ApplyStatusDelta(id, Patch{Name: &value})
	}
	return s.ApplyStatusDelta(id, Patch{Phone: &value})
}

// FindConflict returns another line that already holds value for field,
// compared trimmed and case-insensitively. Empty values never conflict.
func (s *Store) FindConflict(field Field, value string, excludeID int) (Record, bool) {
	wanted := normalizeUnique(value)
	if wanted == "" || !field.Valid() {
		return Record{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedIDsLocked()
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		record := s.records[id]
		if normalizeUnique(record.Value(field)) == wanted {
			return record, true
		}
	}
	return Record{}, false
}

func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedIDsLocked()
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.records[id])
	}
	return records
}

func (s *Store) Record(id int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	return record, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Mask() linemask.Mask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mask
}

// IsActive is always computed from the current mask.
func (s *Store) IsActive(id int) bool {
	return linemask.IsActive(s.Mask(), id, s.lines)
}

func (s *Store) Subscribe() *Subscription {
	sub := newSubscription()
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Store) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.close()
}

func (s *Store) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.push(changes)
	}
}

func (s *Store) sortedIDsLocked() []int {
	ids := make([]int, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
