// Package workflow moves tasks through their lifecycle: evaluation by the
// oracle, routing through the policy gate, approval and execution.
package workflow

import (
	"context"
	"time"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// Orchestrator drives the evaluate/route/execute cycle over the task store
type Orchestrator interface {
	// RunCycle performs one full pass and reports what it did. It never
	// returns an error; failures are audited per task.
	RunCycle(ctx context.Context) CycleReport

	// RecoverInProgress returns tasks left in In_Progress by a crash to Needs_Action
	RecoverInProgress(ctx context.Context) int

	// Stats returns counters over the orchestrator's lifetime
	Stats() entity.OrchestratorStats

	// Worker lifecycle
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// ActionRunner executes an action and always yields a result
type ActionRunner interface {
	Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) entity.ExecutionResult
}

// CycleReport summarises one orchestrator pass
type CycleReport struct {
	StartedAt        time.Time
	Duration         time.Duration
	Evaluated        int
	AutoExecuted     int
	AwaitingApproval int
	Rejected         int
	ApprovedExecuted int
	Failed           int
	OracleErrors     int
	Races            int
	Expired          int
	Panicked         bool
}
