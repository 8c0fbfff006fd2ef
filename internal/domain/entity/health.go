package entity

import "time"

// WatcherStatus mirrors the watcher lifecycle state.
type WatcherStatus string

const (
	WatcherCreated      WatcherStatus = "created"
	WatcherInitializing WatcherStatus = "initializing"
	WatcherRunning      WatcherStatus = "running"
	WatcherDegraded     WatcherStatus = "degraded"
	WatcherStopped      WatcherStatus = "stopped"
)

// WatcherHealth is a point-in-time view of one watcher.
type WatcherHealth struct {
	Name                string        `json:"name"`
	Status              WatcherStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	NextAttempt         *time.Time    `json:"next_attempt,omitempty"`
	Fatal               bool          `json:"fatal"`
	TasksCreated        int           `json:"tasks_created"`
}

// OrchestratorStats summarises recent orchestrator cycles.
type OrchestratorStats struct {
	Cycles                 int        `json:"cycles"`
	LastCycleAt            *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleError         string     `json:"last_cycle_error,omitempty"`
	ConsecutiveOracleFails int        `json:"consecutive_oracle_failures"`
	Evaluated              int        `json:"evaluated"`
	AutoExecuted           int        `json:"auto_executed"`
	AwaitingApproval       int        `json:"awaiting_approval"`
}

// SystemHealth is the snapshot behind the status API, CLI and dashboard.
type SystemHealth struct {
	Timestamp        time.Time         `json:"timestamp"`
	Status           string            `json:"status"`
	Partitions       map[Partition]int `json:"partitions"`
	Watchers         []WatcherHealth   `json:"watchers"`
	Orchestrator     OrchestratorStats `json:"orchestrator"`
	PendingApprovals int               `json:"pending_approvals"`
	Problems         []string          `json:"problems,omitempty"`
}

// System status values.
const (
	SystemOperational = "operational"
	SystemDegraded    = "degraded"
)
