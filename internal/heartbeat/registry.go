// Package heartbeat tracks the health of the session's long-running parts
// (push channel, bootstrap, resync loop, journal) and derives the
// connection line shown by the dashboard.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type State string

const (
	StateStarting State = "starting"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDisabled State = "disabled"
	StateStopped  State = "stopped"
	StateStale    State = "stale"
	StateIdle     State = "idle"
	StateUnknown  State = "unknown"
)

const (
	ComponentStream    = "stream"
	ComponentBootstrap = "bootstrap"
	ComponentResync    = "resync"
	ComponentJournal   = "journal"
)

const (
	ConnectionConnected  = "Live: Connected"
	ConnectionProblem    = "Live: Problem with the connection!"
	ConnectionConnecting = "Live: Connecting…"
)

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name       string
	State      State
	BaseState  State
	Message    string
	Error      string
	LastBeatAt time.Time
	UpdatedAt  time.Time
	Stale      bool
}

type Snapshot struct {
	GeneratedAt time.Time
	Overall     State
	Components  []ComponentStatus
}

// Component returns the named component from the snapshot.
func (s Snapshot) Component(name string) (ComponentStatus, bool) {
	name = normalizeComponent(name)
	for _, item := range s.Components {
		if item.Name == name {
			return item, true
		}
	}
	return ComponentStatus{}, false
}

type componentRecord struct {
	state      State
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]componentRecord
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]componentRecord{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(component, message string) {
	r.setState(component, StateStarting, message, "", false)
}

func (r *Registry) Beat(component, message string) {
	r.setState(component, StateHealthy, message, "", true)
}

func (r *Registry) Degrade(component, message string, err error) {
	errorText := ""
	if err != nil {
		errorText = strings.TrimSpace(err.Error())
	}
	r.setState(component, StateDegraded, message, errorText, false)
}

func (r *Registry) Disabled(component, message string) {
	r.setState(component, StateDisabled, message, "", false)
}

func (r *Registry) Stopped(component, message string) {
	r.setState(component, StateStopped, message, "", false)
}

func (r *Registry) setState(component string, state State, message, errorText string, beat bool) {
	name := normalizeComponent(component)
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[name]
	record.state = state
	record.message = strings.TrimSpace(message)
	record.lastError = strings.TrimSpace(errorText)
	record.updatedAt = now
	if beat || record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
	r.components[name] = record
}

// Snapshot reports every component. A healthy or starting component that has
// not beaten within staleAfter is reported stale; zero disables the check.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:       name,
			State:      record.state,
			BaseState:  record.state,
			Message:    record.message,
			Error:      record.lastError,
			LastBeatAt: record.lastBeatAt,
			UpdatedAt:  record.updatedAt,
		}
		if staleAfter > 0 && canBecomeStale(record.state) && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})

	return Snapshot{
		GeneratedAt: now,
		Overall:     computeOverall(results),
		Components:  results,
	}
}

// ConnectionText is the dashboard's connection line, derived from the push
// channel alone. Quiet periods on the stream are normal, so staleness is
// not considered.
func (r *Registry) ConnectionText() string {
	r.mu.RLock()
	record, ok := r.components[ComponentStream]
	r.mu.RUnlock()
	if !ok {
		return ConnectionConnecting
	}
	switch record.state {
	case StateHealthy:
		return ConnectionConnected
	case StateDegraded, StateStopped:
		return ConnectionProblem
	default:
		return ConnectionConnecting
	}
}

func IsDegradedState(state State) bool {
	return state == StateDegraded || state == StateStale
}

func normalizeComponent(component string) string {
	return strings.ToLower(strings.TrimSpace(component))
}

func canBecomeStale(state State) bool {
	return state == StateHealthy || state == StateStarting
}

func computeOverall(items []ComponentStatus) State {
	if len(items) == 0 {
		return StateUnknown
	}
	hasHealthy := false
	hasStarting := false
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateHealthy:
			hasHealthy = true
		case StateStarting:
			hasStarting = true
		}
	}
	if hasStarting {
		return StateStarting
	}
	if hasHealthy {
		return StateHealthy
	}
	return StateIdle
}
