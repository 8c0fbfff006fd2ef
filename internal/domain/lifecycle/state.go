// Package lifecycle models the watcher lifecycle as a small table-driven
// state machine.
package lifecycle

// State is a watcher lifecycle state.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateDegraded     State = "degraded"
	StateStopped      State = "stopped"
)

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StateCreated, StateInitializing, StateRunning, StateDegraded, StateStopped:
		return true
	}
	return false
}

// Trigger is an event that can cause a lifecycle transition.
type Trigger string

const (
	TriggerInitialize Trigger = "initialize"
	TriggerReady      Trigger = "ready"
	TriggerFail       Trigger = "fail"
	TriggerDegrade    Trigger = "degrade"
	TriggerRecover    Trigger = "recover"
	TriggerStop       Trigger = "stop"
)
