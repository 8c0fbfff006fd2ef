package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidTransition is returned when a trigger is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Table maps a state and trigger to the resulting state.
type Table map[State]map[Trigger]State

// WatcherTable is the watcher lifecycle:
//
//	created -> initializing -> running <-> degraded
//	initializing, running, degraded -> stopped
var WatcherTable = Table{
	StateCreated: {
		TriggerInitialize: StateInitializing,
		TriggerStop:       StateStopped,
	},
	StateInitializing: {
		TriggerReady: StateRunning,
		TriggerFail:  StateStopped,
		TriggerStop:  StateStopped,
	},
	StateRunning: {
		TriggerDegrade: StateDegraded,
		TriggerFail:    StateStopped,
		TriggerStop:    StateStopped,
	},
	StateDegraded: {
		TriggerRecover: StateRunning,
		TriggerFail:    StateStopped,
		TriggerStop:    StateStopped,
	},
}

// Validate checks that every state named in the table is known.
func (t Table) Validate() error {
	for from, edges := range t {
		if !from.IsValid() {
			return fmt.Errorf("unknown state %q", from)
		}
		for trigger, to := range edges {
			if !to.IsValid() {
				return fmt.Errorf("unknown target state %q for %s from %s", to, trigger, from)
			}
		}
	}
	return nil
}

// Machine tracks the current state of one watcher. It is safe for
// concurrent use.
type Machine struct {
	mu    sync.Mutex
	table Table
	state State
}

// NewMachine returns a machine positioned at initial. It panics on a
// malformed table, which is a programming error.
func NewMachine(table Table, initial State) *Machine {
	if err := table.Validate(); err != nil {
		panic(err)
	}
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}
	return &Machine{table: table, state: initial}
}

// NewWatcherMachine returns a machine in StateCreated using WatcherTable.
func NewWatcherMachine() *Machine {
	return NewMachine(WatcherTable, StateCreated)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Allows reports whether trigger is permitted from the current state.
func (m *Machine) Allows(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.table[m.state][trigger]
	return ok
}

// Fire applies trigger and returns the states before and after it. On error
// the state is unchanged.
func (m *Machine) Fire(trigger Trigger) (from, to State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from = m.state
	to, ok := m.table[from][trigger]
	if !ok {
		return from, from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}
	m.state = to
	return from, to, nil
}

// Triggers lists the triggers permitted from the current state, sorted.
func (m *Machine) Triggers() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges := m.table[m.state]
	out := make([]Trigger, 0, len(edges))
	for trigger := range edges {
		out = append(out, trigger)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
