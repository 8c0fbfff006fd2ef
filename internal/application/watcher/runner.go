package watcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/dispatcher"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/schedule"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
	"github.com/garyjia/digital-fte/internal/domain/event"
	"github.com/garyjia/digital-fte/internal/domain/lifecycle"
)

// Config tunes a runner
type Config struct {
	PollInterval           time.Duration
	CycleTimeout           time.Duration
	InitTimeout            time.Duration
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	MaxConsecutiveFailures int
}

// DefaultConfig returns the stock runner settings
func DefaultConfig() Config {
	return Config{
		PollInterval:           60 * time.Second,
		CycleTimeout:           60 * time.Second,
		InitTimeout:            30 * time.Second,
		BaseBackoff:            30 * time.Second,
		MaxBackoff:             15 * time.Minute,
		MaxConsecutiveFailures: 5,
	}
}

// Deps are the collaborators a runner writes to
type Deps struct {
	Store  port.TaskStore
	Dedup  port.DedupIndex
	Audit  port.AuditSink
	Events dispatcher.Publisher
}

// Runner drives one Source through its lifecycle. It implements the worker
// interface so the WorkerManager can start and stop it.
type Runner struct {
	source  Source
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	machine *lifecycle.Machine

	loop        *schedule.Loop
	cleanupOnce sync.Once

	mu     sync.Mutex
	health entity.WatcherHealth
}

// NewRunner creates a runner in the created state
func NewRunner(source Source, deps Deps, cfg Config, logger *zap.Logger) *Runner {
	return &Runner{
		source:  source,
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With(zap.String("watcher", source.Name())),
		now:     time.Now,
		machine: lifecycle.NewWatcherMachine(),
		health:  entity.WatcherHealth{Name: source.Name()},
	}
}

// Name returns the worker name for identification
func (r *Runner) Name() string {
	return "watcher:" + r.source.Name()
}

// Start initializes the source and launches the polling loop. An
// initialization failure leaves the runner stopped and is returned wrapped
// in errs.ErrWatcherFatal.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.initialize(ctx); err != nil {
		return err
	}

	r.loop = schedule.NewLoop(r.Name(), r.cycle, r.cfg.PollInterval, r.logger)
	return r.loop.Start(ctx)
}

// Stop ends the polling loop and releases the source
func (r *Runner) Stop() error {
	if r.loop != nil {
		_ = r.loop.Stop()
	}

	if _, _, err := r.machine.Fire(lifecycle.TriggerStop); err == nil {
		r.mu.Lock()
		r.health.NextAttempt = nil
		r.mu.Unlock()
		r.record(entity.NewAuditEntry(entity.AuditWatcherStopped, r.actor(), "watcher stopped"))
		r.logger.Info("Watcher stopped")
	}

	return r.cleanup()
}

// Health returns a copy of the runner's current health
func (r *Runner) Health() entity.WatcherHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.health
	h.Status = entity.WatcherStatus(r.machine.State())
	return h
}

func (r *Runner) initialize(ctx context.Context) error {
	if _, _, err := r.machine.Fire(lifecycle.TriggerInitialize); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrWatcherFatal, r.source.Name(), err)
	}

	ictx, cancel := context.WithTimeout(ctx, r.cfg.InitTimeout)
	defer cancel()

	if err := r.source.Initialize(ictx); err != nil {
		_, _, _ = r.machine.Fire(lifecycle.TriggerFail)

		r.mu.Lock()
		r.health.Fatal = true
		r.health.LastError = err.Error()
		r.mu.Unlock()

		r.logger.Error("Watcher initialization failed", zap.Error(err))
		r.record(entity.NewAuditEntry(entity.AuditWatcherError, r.actor(), "initialization failed").Failed(err))
		r.publishStopped(ctx, err)
		_ = r.cleanup()
		return fmt.Errorf("%w: %s: %v", errs.ErrWatcherFatal, r.source.Name(), err)
	}

	if _, _, err := r.machine.Fire(lifecycle.TriggerReady); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrWatcherFatal, r.source.Name(), err)
	}

	r.logger.Info("Watcher started", zap.Duration("poll_interval", r.cfg.PollInterval))
	r.record(entity.NewAuditEntry(entity.AuditWatcherStarted, r.actor(), "watcher initialized"))
	return nil
}

// cycle runs one poll and returns the delay before the next one.
func (r *Runner) cycle(ctx context.Context) time.Duration {
	if ctx.Err() != nil || r.machine.State().IsTerminal() {
		return schedule.Stop
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	err := r.poll(cctx)
	cancel()

	if err == nil {
		return r.onSuccess(ctx)
	}
	if ctx.Err() != nil {
		// Shutdown, not a source failure.
		return schedule.Stop
	}
	return r.onFailure(ctx, err)
}

func (r *Runner) poll(ctx context.Context) error {
	events, err := r.source.CheckForEvents(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: cycle timed out after %s", errs.ErrWatcherTransient, r.cfg.CycleTimeout)
		}
		return fmt.Errorf("%w: %v", errs.ErrWatcherTransient, err)
	}

	for _, evt := range events {
		if err := r.ingest(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// ingest turns one event into at most one task in Needs_Action.
func (r *Runner) ingest(ctx context.Context, evt RawEvent) error {
	name := r.source.Name()

	seen, err := r.deps.Dedup.Seen(ctx, name, evt.ID)
	if err != nil {
		return fmt.Errorf("%w: dedup lookup: %v", errs.ErrWatcherTransient, err)
	}
	if seen {
		r.logger.Debug("Skipping processed event", zap.String("event_id", evt.ID))
		return nil
	}

	task, err := r.source.Translate(evt)
	if err != nil {
		// Poison events are recorded and skipped so they cannot wedge the source.
		r.logger.Warn("Failed to translate event", zap.String("event_id", evt.ID), zap.Error(err))
		r.record(entity.NewAuditEntry(entity.AuditWatcherError, r.actor(),
			fmt.Sprintf("event %s could not be translated", evt.ID)).Failed(err))
		return r.mark(ctx, evt.ID, "")
	}
	if task == nil {
		return r.mark(ctx, evt.ID, "")
	}

	r.fillDefaults(task, evt)

	err = r.deps.Store.Put(ctx, entity.PartitionNeedsAction, task)
	switch {
	case errors.Is(err, errs.ErrDuplicateID):
		// Stored on an earlier attempt that failed before marking.
		r.logger.Debug("Task already stored", zap.String("task_id", task.ID))
		return r.mark(ctx, evt.ID, task.ID)
	case err != nil:
		return fmt.Errorf("%w: store task: %v", errs.ErrWatcherTransient, err)
	}

	if err := r.mark(ctx, evt.ID, task.ID); err != nil {
		return err
	}

	r.mu.Lock()
	r.health.TasksCreated++
	r.mu.Unlock()

	r.logger.Info("Task created",
		zap.String("task_id", task.ID),
		zap.String("priority", string(task.Priority)),
		zap.String("title", task.Title))
	r.record(entity.NewAuditEntry(entity.AuditTaskCreated, r.actor(), task.Title).ForTask(task.ID))

	if r.deps.Events != nil {
		r.deps.Events.DispatchAsync(ctx, event.NewEvent(event.TypeTaskCreated, task.ID, map[string]any{
			"source":   task.Source,
			"priority": string(task.Priority),
			"title":    task.Title,
		}))
	}
	return nil
}

// fillDefaults derives a stable id from the event so a retried ingest of the
// same event collides in the store instead of producing a second task.
func (r *Runner) fillDefaults(task *entity.Task, evt RawEvent) {
	observed := evt.ObservedAt
	if observed.IsZero() {
		observed = r.now()
	}
	if task.ID == "" {
		sum := sha1.Sum([]byte(r.source.Name() + "\x00" + evt.ID))
		task.ID = fmt.Sprintf("task_%s_%s", observed.UTC().Format("20060102_150405"), hex.EncodeToString(sum[:4]))
	}
	if task.Source == "" {
		task.Source = r.source.Name()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = observed.UTC()
	}
	task.Priority = r.source.Prioritize(evt)
}

func (r *Runner) mark(ctx context.Context, key, taskID string) error {
	if err := r.deps.Dedup.Mark(ctx, r.source.Name(), key, taskID); err != nil {
		return fmt.Errorf("%w: dedup mark: %v", errs.ErrWatcherTransient, err)
	}
	return nil
}

func (r *Runner) onSuccess(ctx context.Context) time.Duration {
	now := r.now()
	next := now.Add(r.cfg.PollInterval)

	r.mu.Lock()
	r.health.ConsecutiveFailures = 0
	r.health.LastSuccess = &now
	r.health.LastError = ""
	r.health.NextAttempt = &next
	r.mu.Unlock()

	if r.machine.State() == lifecycle.StateDegraded {
		if _, _, err := r.machine.Fire(lifecycle.TriggerRecover); err == nil {
			r.logger.Info("Watcher recovered")
			r.record(entity.NewAuditEntry(entity.AuditWatcherRecovered, r.actor(), "source reachable again"))
		}
	}
	return r.cfg.PollInterval
}

func (r *Runner) onFailure(ctx context.Context, cause error) time.Duration {
	now := r.now()

	r.mu.Lock()
	r.health.ConsecutiveFailures++
	failures := r.health.ConsecutiveFailures
	r.health.LastError = cause.Error()
	r.mu.Unlock()

	if failures >= r.cfg.MaxConsecutiveFailures {
		_, _, _ = r.machine.Fire(lifecycle.TriggerFail)

		r.mu.Lock()
		r.health.Fatal = true
		r.health.NextAttempt = nil
		r.mu.Unlock()

		stopErr := fmt.Errorf("%w: %d consecutive failures: %v", errs.ErrWatcherFatal, failures, cause)
		r.logger.Error("Watcher stopped after repeated failures", zap.Int("failures", failures), zap.Error(cause))
		r.record(entity.NewAuditEntry(entity.AuditWatcherStopped, r.actor(), "too many consecutive failures").Failed(stopErr))
		r.publishStopped(ctx, stopErr)
		_ = r.cleanup()
		return schedule.Stop
	}

	delay := Backoff(failures, r.cfg.BaseBackoff, r.cfg.MaxBackoff)
	next := now.Add(delay)

	r.mu.Lock()
	r.health.NextAttempt = &next
	r.mu.Unlock()

	detail := fmt.Sprintf("failure %d/%d, retrying in %s", failures, r.cfg.MaxConsecutiveFailures, delay)
	if r.machine.State() == lifecycle.StateRunning {
		if _, _, err := r.machine.Fire(lifecycle.TriggerDegrade); err == nil {
			r.logger.Warn("Watcher degraded", zap.Duration("backoff", delay), zap.Error(cause))
			r.record(entity.NewAuditEntry(entity.AuditWatcherDegraded, r.actor(), detail).Failed(cause))
			return delay
		}
	}

	r.logger.Warn("Watcher cycle failed", zap.Int("failures", failures), zap.Duration("backoff", delay), zap.Error(cause))
	r.record(entity.NewAuditEntry(entity.AuditWatcherError, r.actor(), detail).Failed(cause))
	return delay
}

func (r *Runner) publishStopped(ctx context.Context, cause error) {
	if r.deps.Events == nil {
		return
	}
	r.deps.Events.DispatchAsync(ctx, event.NewEvent(event.TypeWatcherStopped, "", map[string]any{
		"watcher": r.source.Name(),
		"error":   cause.Error(),
	}))
}

func (r *Runner) cleanup() error {
	var err error
	r.cleanupOnce.Do(func() {
		if err = r.source.Cleanup(); err != nil {
			r.logger.Warn("Watcher cleanup failed", zap.Error(err))
		}
	})
	return err
}

func (r *Runner) record(entry entity.AuditEntry) {
	if err := r.deps.Audit.Record(context.Background(), entry); err != nil {
		r.logger.Error("Failed to record audit entry", zap.String("event_type", string(entry.EventType)), zap.Error(err))
	}
}

func (r *Runner) actor() string {
	return entity.WatcherActor(r.source.Name())
}
