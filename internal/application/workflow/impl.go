package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/dispatcher"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/schedule"
	"github.com/garyjia/digital-fte/internal/application/service"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
	"github.com/garyjia/digital-fte/internal/domain/event"
	"github.com/garyjia/digital-fte/internal/domain/policy"
)

// Config tunes the orchestrator
type Config struct {
	Interval      time.Duration
	OracleTimeout time.Duration
	Policy        policy.Policy

	// MaxExecutionAttempts escalates a task to a human after this many
	// failed executions instead of re-evaluating it again.
	MaxExecutionAttempts int
}

// DefaultConfig returns the stock orchestrator settings
func DefaultConfig() Config {
	return Config{
		Interval:             5 * time.Minute,
		OracleTimeout:        60 * time.Second,
		Policy:               policy.DefaultPolicy(),
		MaxExecutionAttempts: 3,
	}
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	Store     port.TaskStore
	Oracle    port.Oracle
	Policies  port.PolicyProvider
	Approvals service.ApprovalService
	Executor  ActionRunner
	Audit     port.AuditSink
}

// orchestratorImpl is the concrete implementation of Orchestrator
type orchestratorImpl struct {
	deps       Deps
	cfg        Config
	dispatcher dispatcher.Publisher
	logger     *zap.Logger
	now        func() time.Time

	loop *schedule.Loop

	// cycleMu keeps cycles single-threaded when RunCycle is also called
	// directly, e.g. from the CLI.
	cycleMu sync.Mutex

	mu    sync.Mutex
	stats entity.OrchestratorStats
}

// Option configures the orchestrator
type Option func(*orchestratorImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Publisher) Option {
	return func(o *orchestratorImpl) {
		o.dispatcher = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorImpl) {
		o.now = now
	}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger, opts ...Option) Orchestrator {
	o := &orchestratorImpl{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestratorImpl) Name() string {
	return "orchestrator"
}

func (o *orchestratorImpl) Start(ctx context.Context) error {
	recovered := o.RecoverInProgress(ctx)

	o.loop = schedule.NewLoop(o.Name(), schedule.Every(o.cfg.Interval, func(ctx context.Context) {
		o.RunCycle(ctx)
	}), o.cfg.Interval, o.logger)
	if err := o.loop.Start(ctx); err != nil {
		return err
	}

	o.record(ctx, entity.NewAuditEntry(entity.AuditOrchestratorStarted, entity.ActorSystem,
		fmt.Sprintf("interval %s, threshold %.2f, recovered %d", o.cfg.Interval, o.cfg.Policy.Threshold, recovered)))
	o.logger.Info("Orchestrator started",
		zap.Duration("interval", o.cfg.Interval),
		zap.Float64("threshold", o.cfg.Policy.Threshold))
	return nil
}

func (o *orchestratorImpl) Stop() error {
	if o.loop == nil {
		return nil
	}
	err := o.loop.Stop()
	o.record(context.Background(), entity.NewAuditEntry(entity.AuditOrchestratorStopped, entity.ActorSystem, "orchestrator stopped"))
	o.logger.Info("Orchestrator stopped")
	return err
}

func (o *orchestratorImpl) Stats() entity.OrchestratorStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

func (o *orchestratorImpl) RecoverInProgress(ctx context.Context) int {
	recovered := 0
	for task, err := range o.deps.Store.List(ctx, entity.PartitionInProgress) {
		if err != nil {
			o.logger.Warn("Skipping unreadable task", zap.Error(err))
			continue
		}
		if err := o.deps.Store.Move(ctx, task.ID, entity.PartitionInProgress, entity.PartitionNeedsAction); err != nil {
			o.logger.Warn("Failed to recover task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		o.logger.Info("Recovered interrupted tasks", zap.Int("count", recovered))
	}
	return recovered
}

// RunCycle processes Needs_Action, then human decisions, then expiry.
func (o *orchestratorImpl) RunCycle(ctx context.Context) (report CycleReport) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	report.StartedAt = o.now()
	defer func() {
		if r := recover(); r != nil {
			report.Panicked = true
			err := fmt.Errorf("cycle panicked: %v", r)
			o.logger.Error("Orchestrator cycle panicked", zap.Any("panic", r))
			o.record(ctx, entity.NewAuditEntry(entity.AuditOrchestratorError, entity.ActorSystem, "cycle aborted").Failed(err))
		}
		report.Duration = o.now().Sub(report.StartedAt)
		o.finishCycle(report)
	}()

	policies, err := o.deps.Policies.Policies(ctx)
	if err != nil {
		o.logger.Warn("Failed to load policy documents, evaluating without them", zap.Error(err))
	}

	for _, task := range o.snapshot(ctx, entity.PartitionNeedsAction) {
		if ctx.Err() != nil {
			return report
		}
		o.evaluate(ctx, task, policies, &report)
	}

	if err := o.deps.Approvals.Reconcile(ctx); err != nil {
		o.logger.Error("Approval reconcile failed", zap.Error(err))
	}

	for _, task := range o.snapshot(ctx, entity.PartitionApproved) {
		if ctx.Err() != nil {
			return report
		}
		o.executeApproved(ctx, task, &report)
	}

	expired, err := o.deps.Approvals.SweepExpired(ctx, o.now())
	if err != nil {
		o.logger.Error("Approval expiry sweep failed", zap.Error(err))
	}
	report.Expired = expired

	if report.Evaluated > 0 || report.ApprovedExecuted > 0 || report.Expired > 0 {
		o.logger.Info("Orchestrator cycle finished",
			zap.Int("evaluated", report.Evaluated),
			zap.Int("auto_executed", report.AutoExecuted),
			zap.Int("awaiting_approval", report.AwaitingApproval),
			zap.Int("rejected", report.Rejected),
			zap.Int("approved_executed", report.ApprovedExecuted),
			zap.Int("failed", report.Failed),
			zap.Int("expired", report.Expired))
	}
	return report
}

// snapshot lists a partition in processing order.
func (o *orchestratorImpl) snapshot(ctx context.Context, partition entity.Partition) []*entity.Task {
	var tasks []*entity.Task
	for task, err := range o.deps.Store.List(ctx, partition) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			o.logger.Warn("Skipping unreadable task",
				zap.String("partition", partition.String()),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return entity.Less(tasks[i], tasks[j]) })
	return tasks
}

func (o *orchestratorImpl) evaluate(ctx context.Context, task *entity.Task, policies []port.PolicyDocument, report *CycleReport) {
	log := o.logger.With(zap.String("task_id", task.ID))

	if !o.claim(ctx, task.ID, entity.PartitionNeedsAction, report) {
		return
	}
	report.Evaluated++

	action, err := o.propose(ctx, port.OracleRequest{
		TaskID:   task.ID,
		TaskText: task.Text(),
		Policies: policies,
	})
	if err != nil {
		report.OracleErrors++
		o.oracleFailed(true)
		log.Warn("Oracle failed", zap.Error(err))
		o.record(ctx, entity.NewAuditEntry(entity.AuditOracleError, entity.ActorSystem, "evaluation failed").
			ForTask(task.ID).
			Failed(err))
		o.release(ctx, task.ID, entity.PartitionInProgress, entity.PartitionNeedsAction)
		return
	}
	o.oracleFailed(false)

	o.record(ctx, entity.NewAuditEntry(entity.AuditActionProposed, entity.ActorAI,
		fmt.Sprintf("%s at confidence %.2f: %s", action.Type, action.Confidence, action.Reasoning)).
		ForTask(task.ID).
		ForAction(action.ID))

	decision := policy.Evaluate(action, o.cfg.Policy)
	log.Info("Action routed",
		zap.String("action_type", string(action.Type)),
		zap.Float64("confidence", action.Confidence),
		zap.String("verdict", string(decision.Verdict)))

	task.ProposedAction = action
	task.Status = entity.PartitionInProgress

	switch decision.Verdict {
	case policy.VerdictAutoExecute:
		if task.RetryCount >= o.cfg.MaxExecutionAttempts && o.cfg.MaxExecutionAttempts > 0 {
			log.Info("Escalating to a human after repeated failures", zap.Int("retry_count", task.RetryCount))
			o.requestApproval(ctx, task, action, report)
			return
		}
		report.AutoExecuted++
		o.execute(ctx, task, action, entity.ActorAI, report)

	case policy.VerdictNeedsApproval:
		o.requestApproval(ctx, task, action, report)

	default:
		report.Rejected++
		if err := o.deps.Store.Update(ctx, entity.PartitionInProgress, task); err != nil {
			log.Error("Failed to save rejected action", zap.Error(err))
		}
		if err := o.deps.Store.Move(ctx, task.ID, entity.PartitionInProgress, entity.PartitionRejected); err != nil {
			log.Error("Failed to move rejected task", zap.Error(err))
			return
		}
		o.record(ctx, entity.NewAuditEntry(entity.AuditActionRejected, entity.ActorSystem, decision.Rationale).
			ForTask(task.ID).
			ForAction(action.ID))
	}
}

// propose calls the oracle with a deadline, retrying once on a transient failure.
func (o *orchestratorImpl) propose(ctx context.Context, req port.OracleRequest) (*entity.ProposedAction, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.OracleTimeout)
		action, err := o.deps.Oracle.Propose(cctx, req)
		cancel()

		if err == nil {
			return action, nil
		}
		lastErr = err
		if errors.Is(err, errs.ErrOracleParse) || ctx.Err() != nil {
			break
		}
		o.logger.Debug("Retrying oracle call", zap.String("task_id", req.TaskID), zap.Error(err))
	}
	return nil, lastErr
}

func (o *orchestratorImpl) requestApproval(ctx context.Context, task *entity.Task, action *entity.ProposedAction, report *CycleReport) {
	log := o.logger.With(zap.String("task_id", task.ID))

	if err := o.deps.Store.Update(ctx, entity.PartitionInProgress, task); err != nil {
		log.Error("Failed to save proposed action", zap.Error(err))
	}
	if err := o.deps.Store.Move(ctx, task.ID, entity.PartitionInProgress, entity.PartitionPendingApproval); err != nil {
		log.Error("Failed to move task to approval", zap.Error(err))
		return
	}
	report.AwaitingApproval++

	// The request is created after the move so a fast human decision always
	// finds the task where it expects it.
	if _, err := o.deps.Approvals.Request(ctx, task, action); err != nil {
		log.Error("Failed to create approval request", zap.Error(err))
	}
}

func (o *orchestratorImpl) executeApproved(ctx context.Context, task *entity.Task, report *CycleReport) {
	log := o.logger.With(zap.String("task_id", task.ID))

	if task.ProposedAction == nil {
		// Nothing to run; evaluate it from scratch.
		log.Info("Approved task has no action, re-queueing")
		o.release(ctx, task.ID, entity.PartitionApproved, entity.PartitionNeedsAction)
		return
	}

	req, err := o.deps.Approvals.Get(ctx, task.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		// Approved by moving the file before any request existed.
	case err != nil:
		log.Error("Failed to load approval request", zap.Error(err))
		return
	case req.Resolution != entity.ResolutionApproved:
		log.Debug("Approval not settled yet", zap.String("resolution", string(req.Resolution)))
		return
	}

	if !o.claim(ctx, task.ID, entity.PartitionApproved, report) {
		return
	}
	task.Status = entity.PartitionInProgress
	report.ApprovedExecuted++
	o.execute(ctx, task, task.ProposedAction, entity.ActorSystem, report)
}

// execute runs the action for a task that is in In_Progress.
func (o *orchestratorImpl) execute(ctx context.Context, task *entity.Task, action *entity.ProposedAction, actor string, report *CycleReport) {
	log := o.logger.With(zap.String("task_id", task.ID), zap.String("action_id", action.ID))

	result := o.deps.Executor.Execute(ctx, action, task)
	if !result.Success {
		report.Failed++
		execErr := fmt.Errorf("%w: %s", errs.ErrExecution, result.Error)
		o.record(ctx, entity.NewAuditEntry(entity.AuditActionExecuted, actor, string(action.Type)).
			ForTask(task.ID).
			ForAction(action.ID).
			Failed(execErr))

		task.RetryCount++
		task.LastError = result.Error
		if err := o.deps.Store.Update(ctx, entity.PartitionInProgress, task); err != nil {
			log.Error("Failed to record execution failure", zap.Error(err))
		}
		o.release(ctx, task.ID, entity.PartitionInProgress, entity.PartitionNeedsAction)
		return
	}

	task.LastError = ""
	if err := o.deps.Store.Update(ctx, entity.PartitionInProgress, task); err != nil {
		log.Error("Failed to save executed task", zap.Error(err))
	}
	if err := o.deps.Store.Move(ctx, task.ID, entity.PartitionInProgress, entity.PartitionDone); err != nil {
		log.Error("Failed to move executed task", zap.Error(err))
	}

	detail := string(action.Type)
	if result.Detail != "" {
		detail += ": " + result.Detail
	}
	o.record(ctx, entity.NewAuditEntry(entity.AuditActionExecuted, actor, detail).
		ForTask(task.ID).
		ForAction(action.ID))

	if o.dispatcher != nil {
		o.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeActionExecuted, task.ID, map[string]any{
			"action_id":   action.ID,
			"action_type": string(action.Type),
			"detail":      result.Detail,
		}))
	}
}

// claim moves a task into In_Progress. Losing the race to another actor is
// expected and only audited.
func (o *orchestratorImpl) claim(ctx context.Context, taskID string, from entity.Partition, report *CycleReport) bool {
	err := o.deps.Store.Move(ctx, taskID, from, entity.PartitionInProgress)
	if err == nil {
		return true
	}

	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrDuplicateID) {
		report.Races++
		o.logger.Debug("Task moved by another actor", zap.String("task_id", taskID), zap.Error(err))
		o.record(ctx, entity.NewAuditEntry(entity.AuditStoreRace, entity.ActorSystem,
			fmt.Sprintf("task left %s before it could be claimed", from)).ForTask(taskID))
		return false
	}

	o.logger.Error("Failed to claim task", zap.String("task_id", taskID), zap.Error(err))
	return false
}

func (o *orchestratorImpl) release(ctx context.Context, taskID string, from, to entity.Partition) {
	if err := o.deps.Store.Move(ctx, taskID, from, to); err != nil {
		o.logger.Error("Failed to release task",
			zap.String("task_id", taskID),
			zap.String("to", to.String()),
			zap.Error(err))
	}
}

func (o *orchestratorImpl) oracleFailed(failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if failed {
		o.stats.ConsecutiveOracleFails++
	} else {
		o.stats.ConsecutiveOracleFails = 0
	}
}

func (o *orchestratorImpl) finishCycle(report CycleReport) {
	o.mu.Lock()
	defer o.mu.Unlock()

	at := report.StartedAt
	o.stats.Cycles++
	o.stats.LastCycleAt = &at
	o.stats.Evaluated += report.Evaluated
	o.stats.AutoExecuted += report.AutoExecuted
	o.stats.AwaitingApproval += report.AwaitingApproval
	o.stats.LastCycleError = ""
	if report.Panicked {
		o.stats.LastCycleError = "cycle panicked"
	}
}

func (o *orchestratorImpl) record(ctx context.Context, entry entity.AuditEntry) {
	if err := o.deps.Audit.Record(ctx, entry); err != nil {
		o.logger.Error("Failed to record audit entry",
			zap.String("event_type", string(entry.EventType)),
			zap.Error(err))
	}
}
