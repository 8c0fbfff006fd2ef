package entity

import "time"

// AuditEventType classifies an audit entry.
type AuditEventType string

const (
	AuditTaskCreated         AuditEventType = "task_created"
	AuditActionProposed      AuditEventType = "action_proposed"
	AuditActionRejected      AuditEventType = "action_rejected"
	AuditApprovalRequested   AuditEventType = "approval_requested"
	AuditHumanDecision       AuditEventType = "human_decision"
	AuditActionExecuted      AuditEventType = "action_executed"
	AuditOracleError         AuditEventType = "oracle_error"
	AuditApprovalExpired     AuditEventType = "approval_expired"
	AuditWatcherStarted      AuditEventType = "watcher_started"
	AuditWatcherDegraded     AuditEventType = "watcher_degraded"
	AuditWatcherRecovered    AuditEventType = "watcher_recovered"
	AuditWatcherStopped      AuditEventType = "watcher_stopped"
	AuditWatcherError        AuditEventType = "watcher_error"
	AuditHealthCheck         AuditEventType = "health_check"
	AuditStoreRace           AuditEventType = "store_race"
	AuditOrchestratorStarted AuditEventType = "orchestrator_started"
	AuditOrchestratorStopped AuditEventType = "orchestrator_stopped"
	AuditOrchestratorError   AuditEventType = "orchestrator_error"
)

// Outcome is the result recorded on an audit entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Well-known actors. Watchers use WatcherActor.
const (
	ActorAI     = "ai"
	ActorHuman  = "human"
	ActorSystem = "system"
)

// WatcherActor returns the actor name used for entries produced by a watcher.
func WatcherActor(name string) string {
	return "watcher:" + name
}

// AuditEntry is one append-only fact about the engine.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	TaskID    string         `json:"task_id,omitempty"`
	ActionID  string         `json:"action_id,omitempty"`
	Actor     string         `json:"actor"`
	Outcome   Outcome        `json:"outcome"`
	Detail    string         `json:"detail"`
	Error     string         `json:"error,omitempty"`
}

// NewAuditEntry returns a successful entry; callers adjust fields as needed.
func NewAuditEntry(eventType AuditEventType, actor, detail string) AuditEntry {
	return AuditEntry{
		EventType: eventType,
		Actor:     actor,
		Outcome:   OutcomeSuccess,
		Detail:    detail,
	}
}

// ForTask sets the task id.
func (e AuditEntry) ForTask(taskID string) AuditEntry {
	e.TaskID = taskID
	return e
}

// ForAction sets the action id.
func (e AuditEntry) ForAction(actionID string) AuditEntry {
	e.ActionID = actionID
	return e
}

// Failed marks the entry as a failure caused by err.
func (e AuditEntry) Failed(err error) AuditEntry {
	e.Outcome = OutcomeFailure
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// HumanActor returns the actor name for a decision made by a person through
// the given channel, e.g. "cli" or "filesystem".
func HumanActor(channel string) string {
	return ActorHuman + ":" + channel
}
