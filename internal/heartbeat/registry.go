package heartbeat

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"

	overallIdle = "idle"
)

// Components reported by the bot runtime.
const (
	ComponentHTTP      = "http"
	ComponentWorkers   = "workers"
	ComponentSweeper   = "sweeper"
	ComponentAdminList = "adminlist"
	ComponentTelegram  = "telegram"
	ComponentPresence  = "presence"
)

// Reporter is the write side handed to long-running components.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	BaseState      string `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

// Degraded reports the components currently degraded or stale.
func (s Snapshot) Degraded() []string {
	var names []string
	for _, item := range s.Components {
		if IsDegradedState(item.State) {
			names = append(names, item.Name)
		}
	}
	return names
}

type componentRecord struct {
	state      string
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]*componentRecord
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]*componentRecord{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(component, message string) {
	r.update(component, StateStarting, message, "", false)
}

// Beat marks the component healthy and refreshes its staleness clock.
func (r *Registry) Beat(component, message string) {
	r.update(component, StateHealthy, message, "", true)
}

func (r *Registry) Degrade(component, message string, err error) {
	errorText := ""
	if err != nil {
		errorText = err.Error()
	}
	r.update(component, StateDegraded, message, errorText, false)
}

func (r *Registry) Disabled(component, message string) {
	r.update(component, StateDisabled, message, "", false)
}

func (r *Registry) Stopped(component, message string) {
	r.update(component, StateStopped, message, "", false)
}

func (r *Registry) update(component, state, message, errorText string, beat bool) {
	name := strings.ToLower(strings.TrimSpace(component))
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.components[name]
	if !ok {
		record = &componentRecord{}
		r.components[name] = record
	}
	record.state = state
	record.message = strings.TrimSpace(message)
	record.lastError = strings.TrimSpace(errorText)
	record.updatedAt = now
	if beat || record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
}

// Snapshot returns every component sorted by name. Starting and healthy
// components without a beat inside staleAfter are reported stale.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          record.state,
			BaseState:      record.state,
			Message:        record.message,
			Error:          record.lastError,
			LastBeatAtUnix: record.lastBeatAt.Unix(),
			UpdatedAtUnix:  record.updatedAt.Unix(),
		}
		if staleAfter > 0 && canBecomeStale(record.state) && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	slices.SortFunc(results, func(a, b ComponentStatus) int {
		return strings.Compare(a.Name, b.Name)
	})

	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         computeOverall(results),
		Components:      results,
	}
}

func IsDegradedState(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case StateDegraded, StateStale:
		return true
	default:
		return false
	}
}

func canBecomeStale(state string) bool {
	return state == StateHealthy || state == StateStarting
}

func computeOverall(items []ComponentStatus) string {
	if len(items) == 0 {
		return StateStarting
	}
	overall := overallIdle
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			overall = StateStarting
		case StateHealthy:
			if overall == overallIdle {
				overall = StateHealthy
			}
		}
	}
	return overall
}
