// Package executor triggers automation runs and tracks per-node transient
// execution state for the mounted graph.
package executor

import (
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// DefaultRevertAfter is the quiet period before a terminal execution state
// reverts to idle.
const DefaultRevertAfter = 7 * time.Second

type stateEntry struct {
	state      models.ExecutionState
	generation uint64
	timer      *time.Timer
}

// StateStore holds the transient ExecutionState per automation code. States
// survive graph reloads and reconciliation passes; terminal states revert to
// idle after a bounded quiet period. Every write bumps a per-code generation
// so a revert timer scheduled for an older write can never clobber a newer
// one (last write wins).
type StateStore struct {
	mu          sync.Mutex
	entries     map[string]*stateEntry
	revertAfter time.Duration
	stopped     bool
}

// NewStateStore creates a state store. A non-positive revertAfter falls back
// to DefaultRevertAfter.
func NewStateStore(revertAfter time.Duration) *StateStore {
	if revertAfter <= 0 {
		revertAfter = DefaultRevertAfter
	}

	return &StateStore{
		entries:     make(map[string]*stateEntry),
		revertAfter: revertAfter,
	}
}

// State returns the current execution state for a code, idle when untouched.
func (s *StateStore) State(code string) models.ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.entries[code]; exists {
		return entry.state
	}

	return models.ExecutionState{Status: models.ExecIdle}
}

// States returns a snapshot of all non-idle execution states.
func (s *StateStore) States() map[string]models.ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]models.ExecutionState, len(s.entries))

	for code, entry := range s.entries {
		if entry.state.Status != models.ExecIdle {
			states[code] = entry.state
		}
	}

	return states
}

// Running reports whether a trigger for the code is currently in flight.
func (s *StateStore) Running(code string) bool {
	return s.State(code).Status == models.ExecRunning
}

// Begin marks a code as running and clears any previous transient message.
// Any pending revert timer for the code is cancelled.
func (s *StateStore) Begin(code string) {
	s.set(code, models.ExecRunning, "", false)
}

// Finish records a terminal outcome and arms the revert back to idle.
func (s *StateStore) Finish(code string, status models.ExecStatus, message string) {
	s.set(code, status, message, true)
}

// MarkCascade records a success caused by an upstream automation's run.
func (s *StateStore) MarkCascade(code, upstream string) {
	s.set(code, models.ExecSuccess, "Triggered by "+upstream, true)
}

// Stop cancels every pending revert timer. Safe to call more than once; a
// stopped store no longer arms timers but still serves reads and writes.
func (s *StateStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for _, entry := range s.entries {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
}

func (s *StateStore) set(code string, status models.ExecStatus, message string, revert bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[code]
	if !exists {
		entry = &stateEntry{}
		s.entries[code] = entry
	}

	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}

	entry.generation++
	entry.state = models.ExecutionState{
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}

	if revert && !s.stopped {
		generation := entry.generation
		entry.timer = time.AfterFunc(s.revertAfter, func() {
			s.revert(code, generation)
		})
	}
}

// revert resets a code to idle, but only if no newer write happened since the
// timer was armed.
func (s *StateStore) revert(code string, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[code]
	if !exists || entry.generation != generation {
		return
	}

	entry.generation++
	entry.timer = nil
	entry.state = models.ExecutionState{Status: models.ExecIdle, UpdatedAt: time.Now().UTC()}
}
