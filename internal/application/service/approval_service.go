package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/digital-fte/internal/application/dispatcher"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
	"github.com/garyjia/digital-fte/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DefaultApprovalTTL is how long a request waits for a human before expiring.
const DefaultApprovalTTL = 24 * time.Hour

// ApprovalService owns the approval boundary between the engine and humans.
// Decisions arrive either through Approve/Reject or as file moves into the
// Approved/Rejected partitions, which Reconcile picks up.
type ApprovalService interface {
	Request(ctx context.Context, task *entity.Task, action *entity.ProposedAction) (*entity.ApprovalRequest, error)
	Approve(ctx context.Context, taskID, actor, note string) (*entity.ApprovalRequest, error)
	Reject(ctx context.Context, taskID, actor, note string) (*entity.ApprovalRequest, error)
	Requeue(ctx context.Context, taskID, actor string) error
	Get(ctx context.Context, taskID string) (*entity.ApprovalRequest, error)
	Pending(ctx context.Context) ([]*entity.ApprovalRequest, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Reconcile(ctx context.Context) error
}

type approvalServiceImpl struct {
	repo   port.ApprovalRepository
	store  port.TaskStore
	audit  port.AuditSink
	events dispatcher.Publisher
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

// ApprovalOption configures the approval service
type ApprovalOption func(*approvalServiceImpl)

// WithApprovalTTL overrides DefaultApprovalTTL
func WithApprovalTTL(ttl time.Duration) ApprovalOption {
	return func(s *approvalServiceImpl) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithApprovalClock replaces time.Now, for tests
func WithApprovalClock(now func() time.Time) ApprovalOption {
	return func(s *approvalServiceImpl) {
		s.now = now
	}
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	repo port.ApprovalRepository,
	store port.TaskStore,
	audit port.AuditSink,
	events dispatcher.Publisher,
	logger Logger,
	opts ...ApprovalOption,
) ApprovalService {
	s := &approvalServiceImpl{
		repo:   repo,
		store:  store,
		audit:  audit,
		events: events,
		ttl:    DefaultApprovalTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request records that action needs a human decision before it may run
func (s *approvalServiceImpl) Request(ctx context.Context, task *entity.Task, action *entity.ProposedAction) (*entity.ApprovalRequest, error) {
	if action == nil {
		return nil, fmt.Errorf("approval request for task %s has no action", task.ID)
	}

	now := s.now().UTC()
	req := &entity.ApprovalRequest{
		ID:         "apr_" + uuid.NewString(),
		TaskID:     task.ID,
		ActionID:   action.ID,
		ActionType: action.Type,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		Resolution: entity.ResolutionPending,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		s.logger.Error("Failed to create approval request", "error", err, "task_id", task.ID)
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	s.record(ctx, entity.NewAuditEntry(entity.AuditApprovalRequested, entity.ActorSystem,
		fmt.Sprintf("%s at confidence %.2f, expires %s", action.Type, action.Confidence, req.ExpiresAt.Format(time.RFC3339))).
		ForTask(task.ID).
		ForAction(action.ID))

	s.publish(ctx, event.NewEvent(event.TypeApprovalRequested, task.ID, map[string]any{
		"request_id":  req.ID,
		"title":       task.Title,
		"action_type": string(action.Type),
		"confidence":  action.Confidence,
		"reasoning":   action.Reasoning,
		"expires_at":  req.ExpiresAt.Format(time.RFC3339),
	}))

	s.logger.Info("Approval requested", "task_id", task.ID, "action_type", action.Type, "expires_at", req.ExpiresAt)
	return req, nil
}

// Approve resolves the task's latest request as approved and moves the task to Approved
func (s *approvalServiceImpl) Approve(ctx context.Context, taskID, actor, note string) (*entity.ApprovalRequest, error) {
	return s.resolve(ctx, taskID, entity.ResolutionApproved, actor, note)
}

// Reject resolves the task's latest request as rejected and moves the task to Rejected
func (s *approvalServiceImpl) Reject(ctx context.Context, taskID, actor, note string) (*entity.ApprovalRequest, error) {
	return s.resolve(ctx, taskID, entity.ResolutionRejected, actor, note)
}

func (s *approvalServiceImpl) resolve(ctx context.Context, taskID string, target entity.Resolution, actor, note string) (*entity.ApprovalRequest, error) {
	dest := partitionFor(target)
	who := entity.HumanActor(actor)

	req, err := s.repo.LatestForTask(ctx, taskID)
	if errors.Is(err, errs.ErrNotFound) {
		// The task reached Pending_Approval but its request was never stored.
		return nil, s.resolveWithoutRequest(ctx, taskID, dest, who, note)
	}
	if err != nil {
		return nil, err
	}

	if req.Resolution == target {
		s.ensureIn(ctx, taskID, dest)
		return req, nil
	}
	if req.Resolution == entity.ResolutionExpired {
		return req, fmt.Errorf("%w: task %s expired at %s", errs.ErrApprovalExpired, taskID, req.ExpiresAt.Format(time.RFC3339))
	}
	if req.Resolution.IsTerminal() {
		return req, fmt.Errorf("%w: task %s is %s", errs.ErrApprovalResolved, taskID, req.Resolution)
	}

	now := s.now().UTC()
	if req.IsExpiredAt(now) {
		s.expire(ctx, req, now)
		return req, fmt.Errorf("%w: task %s expired at %s", errs.ErrApprovalExpired, taskID, req.ExpiresAt.Format(time.RFC3339))
	}

	ok, err := s.repo.Resolve(ctx, req.ID, target, who, note, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else resolved it first; report what they decided.
		latest, err := s.repo.LatestForTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if latest.Resolution == target {
			s.ensureIn(ctx, taskID, dest)
			return latest, nil
		}
		return latest, fmt.Errorf("%w: task %s is %s", errs.ErrApprovalResolved, taskID, latest.Resolution)
	}

	req.Resolution = target
	req.ResolvedAt = &now
	req.ResolvedBy = who
	req.Note = note

	s.ensureIn(ctx, taskID, dest)
	s.decided(ctx, req, who)
	return req, nil
}

func (s *approvalServiceImpl) resolveWithoutRequest(ctx context.Context, taskID string, dest entity.Partition, who, note string) error {
	current, err := s.store.Locate(ctx, taskID)
	if err != nil {
		return err
	}
	if current == dest {
		return nil
	}
	if current != entity.PartitionPendingApproval {
		return fmt.Errorf("%w: task %s is in %s, not awaiting approval", errs.ErrNotFound, taskID, current)
	}
	if err := s.store.Move(ctx, taskID, entity.PartitionPendingApproval, dest); err != nil {
		return err
	}

	s.record(ctx, entity.NewAuditEntry(entity.AuditHumanDecision, who, decisionDetail(dest, note)).ForTask(taskID))
	return nil
}

// ensureIn moves the task from Pending_Approval to dest unless it is already
// there. A task that moved elsewhere in the meantime is left alone.
func (s *approvalServiceImpl) ensureIn(ctx context.Context, taskID string, dest entity.Partition) {
	err := s.store.Move(ctx, taskID, entity.PartitionPendingApproval, dest)
	if err == nil || !errors.Is(err, errs.ErrNotFound) {
		if err != nil {
			s.logger.Error("Failed to move decided task", "error", err, "task_id", taskID, "to", dest)
		}
		return
	}

	current, lerr := s.store.Locate(ctx, taskID)
	if lerr != nil {
		s.logger.Error("Decided task not found in store", "task_id", taskID)
		return
	}
	if current != dest {
		s.logger.Info("Decided task is elsewhere, leaving in place", "task_id", taskID, "partition", current)
	}
}

// Requeue sends a task waiting for approval back for re-evaluation
func (s *approvalServiceImpl) Requeue(ctx context.Context, taskID, actor string) error {
	who := entity.HumanActor(actor)

	current, err := s.store.Locate(ctx, taskID)
	if err != nil {
		return err
	}
	if current != entity.PartitionPendingApproval && current != entity.PartitionRejected {
		return fmt.Errorf("%w: task %s is in %s", errs.ErrInvalidPartition, taskID, current)
	}

	if req, err := s.repo.LatestForTask(ctx, taskID); err == nil && req.Resolution == entity.ResolutionPending {
		if _, err := s.repo.Resolve(ctx, req.ID, entity.ResolutionRejected, who, "requeued", s.now().UTC()); err != nil {
			return err
		}
	}

	if err := s.store.Move(ctx, taskID, current, entity.PartitionNeedsAction); err != nil {
		return err
	}

	s.record(ctx, entity.NewAuditEntry(entity.AuditHumanDecision, who, "requeued for re-evaluation").ForTask(taskID))
	s.logger.Info("Task requeued", "task_id", taskID, "from", current)
	return nil
}

// Get returns the latest request for a task
func (s *approvalServiceImpl) Get(ctx context.Context, taskID string) (*entity.ApprovalRequest, error) {
	return s.repo.LatestForTask(ctx, taskID)
}

// Pending lists requests still waiting for a decision
func (s *approvalServiceImpl) Pending(ctx context.Context) ([]*entity.ApprovalRequest, error) {
	return s.repo.ListByResolution(ctx, entity.ResolutionPending)
}

// SweepExpired marks pending requests past their deadline as expired. The
// tasks stay in Pending_Approval for a human to requeue.
func (s *approvalServiceImpl) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.repo.ListByResolution(ctx, entity.ResolutionPending)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range pending {
		if req.IsExpiredAt(now) && s.expire(ctx, req, now) {
			expired++
		}
	}
	return expired, nil
}

// expire marks req expired and reports whether this call did it.
func (s *approvalServiceImpl) expire(ctx context.Context, req *entity.ApprovalRequest, now time.Time) bool {
	ok, err := s.repo.Resolve(ctx, req.ID, entity.ResolutionExpired, entity.ActorSystem, "approval deadline passed", now.UTC())
	if err != nil {
		s.logger.Error("Failed to expire approval request", "error", err, "task_id", req.TaskID)
		return false
	}
	if !ok {
		return false
	}
	req.Resolution = entity.ResolutionExpired

	s.record(ctx, entity.NewAuditEntry(entity.AuditApprovalExpired, entity.ActorSystem,
		fmt.Sprintf("no decision before %s", req.ExpiresAt.Format(time.RFC3339))).
		ForTask(req.TaskID).
		ForAction(req.ActionID))
	s.publish(ctx, event.NewEvent(event.TypeApprovalExpired, req.TaskID, map[string]any{
		"request_id":  req.ID,
		"action_type": string(req.ActionType),
	}))
	s.logger.Info("Approval request expired", "task_id", req.TaskID, "expires_at", req.ExpiresAt)
	return true
}

// Reconcile records decisions humans made by moving task files. A task moved
// into Approved or Rejected after its request expired goes back to
// Pending_Approval, the same outcome Approve and Reject give.
func (s *approvalServiceImpl) Reconcile(ctx context.Context) error {
	var errList []error
	if err := s.reconcilePartition(ctx, entity.PartitionApproved); err != nil {
		errList = append(errList, err)
	}
	if err := s.reconcilePartition(ctx, entity.PartitionRejected); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

func (s *approvalServiceImpl) reconcilePartition(ctx context.Context, partition entity.Partition) error {
	target := entity.ResolutionApproved
	if partition == entity.PartitionRejected {
		target = entity.ResolutionRejected
	}
	who := entity.HumanActor("filesystem")

	for task, err := range s.store.List(ctx, partition) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Skipping unreadable task", "error", err, "partition", partition)
			continue
		}

		req, err := s.repo.LatestForTask(ctx, task.ID)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		switch {
		case req.Resolution == entity.ResolutionPending && !req.IsExpiredAt(now):
			ok, err := s.repo.Resolve(ctx, req.ID, target, who, "", now)
			if err != nil {
				return err
			}
			if ok {
				req.Resolution = target
				req.ResolvedBy = who
				s.decided(ctx, req, who)
			}

		case target == entity.ResolutionApproved && req.IsExpiredAt(now):
			s.expire(ctx, req, now)
			s.revertLateDecision(ctx, task.ID, partition, req, who)

		case target == entity.ResolutionApproved && req.Resolution == entity.ResolutionRejected:
			// Rejected through the API, then dragged into Approved. The
			// recorded decision stands.
			if err := s.store.Move(ctx, task.ID, entity.PartitionApproved, entity.PartitionRejected); err != nil && !errors.Is(err, errs.ErrNotFound) {
				s.logger.Error("Failed to restore rejected task", "error", err, "task_id", task.ID)
				continue
			}
			s.record(ctx, entity.NewAuditEntry(entity.AuditHumanDecision, who, "approval after rejection ignored").
				ForTask(task.ID).
				ForAction(req.ActionID).
				Failed(fmt.Errorf("%w: task %s", errs.ErrApprovalResolved, task.ID)))

		case target == entity.ResolutionRejected && req.IsExpiredAt(now) && decidesRequest(task, req):
			// The orchestrator also rejects malformed proposals; those carry
			// a different action than the expired request.
			s.expire(ctx, req, now)
			s.revertLateDecision(ctx, task.ID, partition, req, who)
		}
	}
	return nil
}

// revertLateDecision puts a task decided by file move after its deadline
// back into Pending_Approval and records the refused decision.
func (s *approvalServiceImpl) revertLateDecision(ctx context.Context, taskID string, from entity.Partition, req *entity.ApprovalRequest, who string) {
	if err := s.store.Move(ctx, taskID, from, entity.PartitionPendingApproval); err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.logger.Error("Failed to revert late decision", "error", err, "task_id", taskID, "from", from)
		}
		return
	}
	verb := "approval"
	if from == entity.PartitionRejected {
		verb = "rejection"
	}
	s.record(ctx, entity.NewAuditEntry(entity.AuditHumanDecision, who, verb+" arrived after the deadline").
		ForTask(taskID).
		ForAction(req.ActionID).
		Failed(fmt.Errorf("%w: task %s", errs.ErrApprovalExpired, taskID)))
	s.logger.Info("Late decision reverted", "task_id", taskID, "from", from)
}

// decidesRequest reports whether the task record still carries the proposal
// req was opened for. Records without a proposal are attributed to req.
func decidesRequest(task *entity.Task, req *entity.ApprovalRequest) bool {
	return task.ProposedAction == nil || task.ProposedAction.ID == req.ActionID
}

func (s *approvalServiceImpl) decided(ctx context.Context, req *entity.ApprovalRequest, who string) {
	s.record(ctx, entity.NewAuditEntry(entity.AuditHumanDecision, who, decisionDetail(partitionFor(req.Resolution), req.Note)).
		ForTask(req.TaskID).
		ForAction(req.ActionID))
	s.publish(ctx, event.NewEvent(event.TypeApprovalResolved, req.TaskID, map[string]any{
		"request_id": req.ID,
		"resolution": string(req.Resolution),
		"by":         who,
	}))
	s.logger.Info("Approval resolved", "task_id", req.TaskID, "resolution", req.Resolution, "by", who)
}

func (s *approvalServiceImpl) record(ctx context.Context, entry entity.AuditEntry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to record audit entry", "error", err, "event_type", entry.EventType)
	}
}

func (s *approvalServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.events != nil {
		s.events.DispatchAsync(ctx, evt)
	}
}

func partitionFor(r entity.Resolution) entity.Partition {
	if r == entity.ResolutionApproved {
		return entity.PartitionApproved
	}
	return entity.PartitionRejected
}

func decisionDetail(dest entity.Partition, note string) string {
	verb := "approved"
	if dest == entity.PartitionRejected {
		verb = "rejected"
	}
	if note == "" {
		return verb
	}
	return verb + ": " + note
}
