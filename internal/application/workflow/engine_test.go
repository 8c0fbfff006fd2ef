package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/executor"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/service"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
	"github.com/garyjia/digital-fte/internal/infrastructure/audit"
	"github.com/garyjia/digital-fte/internal/infrastructure/persistence/repository"
	"github.com/garyjia/digital-fte/internal/infrastructure/storage"
	"github.com/garyjia/digital-fte/internal/infrastructure/taskstore"
	"github.com/garyjia/digital-fte/pkg/database"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockOracle struct {
	mu          sync.Mutex
	proposeFunc func(ctx context.Context, req port.OracleRequest) (*entity.ProposedAction, error)
	requests    []port.OracleRequest
}

func (m *mockOracle) Propose(ctx context.Context, req port.OracleRequest) (*entity.ProposedAction, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.proposeFunc(ctx, req)
}

func (m *mockOracle) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// answer returns an oracle that always proposes the given JSON object.
func answer(raw string) *mockOracle {
	return &mockOracle{proposeFunc: func(context.Context, port.OracleRequest) (*entity.ProposedAction, error) {
		action, err := entity.ParseProposedAction([]byte(raw), time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrOracleParse, err)
		}
		return action, nil
	}}
}

type mockConnector struct {
	mu          sync.Mutex
	executeFunc func(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error)
	executed    []string
}

func (m *mockConnector) Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error) {
	m.mu.Lock()
	m.executed = append(m.executed, task.ID)
	m.mu.Unlock()
	if m.executeFunc != nil {
		return m.executeFunc(ctx, action, task)
	}
	return entity.ExecutionResult{Success: true, Detail: "sent"}, nil
}

type fixture struct {
	orch      Orchestrator
	store     *taskstore.Store
	log       *audit.Log
	approvals service.ApprovalService
	connector *mockConnector
	oracle    *mockOracle
	root      string
}

func newFixture(t *testing.T, oracle *mockOracle, cfgs ...func(*Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := zap.NewNop()

	store, err := taskstore.New(root, logger)
	require.NoError(t, err)

	auditLog, err := audit.New(filepath.Join(root, "Logs"), logger)
	require.NoError(t, err)

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "fte.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Migrate())

	approvals := service.NewApprovalService(repository.NewApprovalRepository(db.DB, logger), store, auditLog, nil, nopLogger{})

	connector := &mockConnector{}
	exec := executor.New(time.Second, logger)
	exec.Register("email_", "email", connector)
	exec.Register("payment", "payment", connector)

	cfg := DefaultConfig()
	cfg.OracleTimeout = time.Second
	for _, fn := range cfgs {
		fn(&cfg)
	}

	orch := NewOrchestrator(Deps{
		Store:     store,
		Oracle:    oracle,
		Policies:  storage.NewPolicyFiles(root, logger),
		Approvals: approvals,
		Executor:  exec,
		Audit:     auditLog,
	}, cfg, logger)

	return &fixture{
		orch:      orch,
		store:     store,
		log:       auditLog,
		approvals: approvals,
		connector: connector,
		oracle:    oracle,
		root:      root,
	}
}

func (f *fixture) addTask(t *testing.T, id string, priority entity.Priority, created time.Time, content string) {
	t.Helper()
	task := &entity.Task{
		ID:        id,
		Source:    "manual",
		Priority:  priority,
		CreatedAt: created,
		Title:     "Client request",
		Content:   content,
	}
	require.NoError(t, f.store.Put(context.Background(), entity.PartitionNeedsAction, task))
}

func (f *fixture) partition(t *testing.T, id string) entity.Partition {
	t.Helper()
	p, err := f.store.Locate(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) entries(t *testing.T, typ entity.AuditEventType) []entity.AuditEntry {
	t.Helper()
	out, err := f.log.Query(context.Background(), audit.Filter{EventType: typ})
	require.NoError(t, err)
	return out
}

var created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRunCycle_AutoExecutesConfidentEmail(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"email_send","confidence":0.95,"requires_approval":false,
		"reasoning":"routine invoice resend","details":{"to":"client@example.com"}}`))
	f.addTask(t, "task_1", entity.PriorityP2, created, "client asks for invoice")

	report := f.orch.RunCycle(context.Background())

	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.AutoExecuted)
	assert.Equal(t, entity.PartitionDone, f.partition(t, "task_1"))

	executed := f.entries(t, entity.AuditActionExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, entity.OutcomeSuccess, executed[0].Outcome)
	assert.Empty(t, executed[0].Error)
	assert.Equal(t, "task_1", executed[0].TaskID)
	assert.Len(t, f.entries(t, entity.AuditActionProposed), 1)

	done, err := f.store.Read(context.Background(), "task_1", entity.PartitionDone)
	require.NoError(t, err)
	require.NotNil(t, done.ProposedAction)
	assert.Equal(t, entity.ActionEmailSend, done.ProposedAction.Type)
}

func TestRunCycle_PaymentAlwaysWaitsForHuman(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"payment","confidence":0.99,"requires_approval":false,
		"reasoning":"invoice matches","details":{"amount":120}}`))
	f.addTask(t, "task_1", entity.PriorityP2, created, "client asks for invoice")

	report := f.orch.RunCycle(context.Background())

	assert.Equal(t, 1, report.AwaitingApproval)
	assert.Zero(t, report.AutoExecuted)
	assert.Equal(t, entity.PartitionPendingApproval, f.partition(t, "task_1"))
	assert.Empty(t, f.connector.executed)
	assert.Empty(t, f.entries(t, entity.AuditActionExecuted))
	assert.Len(t, f.entries(t, entity.AuditApprovalRequested), 1)

	req, err := f.approvals.Get(context.Background(), "task_1")
	require.NoError(t, err)
	assert.Equal(t, entity.ResolutionPending, req.Resolution)

	// A second cycle leaves it alone.
	f.orch.RunCycle(context.Background())
	assert.Equal(t, entity.PartitionPendingApproval, f.partition(t, "task_1"))
	assert.Equal(t, 1, f.oracle.calls())
}

func TestRunCycle_ApprovedTaskExecutesNextCycle(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"payment","confidence":0.99,"requires_approval":true,
		"reasoning":"invoice matches","details":{"amount":120}}`))
	f.addTask(t, "task_1", entity.PriorityP2, created, "pay the supplier")
	ctx := context.Background()

	f.orch.RunCycle(ctx)
	_, err := f.approvals.Approve(ctx, "task_1", "cli", "")
	require.NoError(t, err)

	report := f.orch.RunCycle(ctx)
	assert.Equal(t, 1, report.ApprovedExecuted)
	assert.Equal(t, entity.PartitionDone, f.partition(t, "task_1"))
	assert.Equal(t, []string{"task_1"}, f.connector.executed)

	executed := f.entries(t, entity.AuditActionExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, entity.ActorSystem, executed[0].Actor)
}

func TestRunCycle_FileMoveApprovalExecutes(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"payment","confidence":0.5,"requires_approval":true,
		"reasoning":"r","details":{}}`))
	f.addTask(t, "task_1", entity.PriorityP2, created, "pay")
	ctx := context.Background()

	f.orch.RunCycle(ctx)
	require.NoError(t, f.store.Move(ctx, "task_1", entity.PartitionPendingApproval, entity.PartitionApproved))
	f.orch.RunCycle(ctx)

	assert.Equal(t, entity.PartitionDone, f.partition(t, "task_1"))
	req, err := f.approvals.Get(ctx, "task_1")
	require.NoError(t, err)
	assert.Equal(t, entity.ResolutionApproved, req.Resolution)
	assert.Equal(t, "human:filesystem", req.ResolvedBy)
}

func TestRunCycle_OracleTransientErrorRetriedOnce(t *testing.T) {
	ok := answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`)
	attempts := 0
	oracle := &mockOracle{proposeFunc: func(ctx context.Context, req port.OracleRequest) (*entity.ProposedAction, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("%w: 502 bad gateway", errs.ErrOracleCall)
		}
		return ok.proposeFunc(ctx, req)
	}}
	f := newFixture(t, oracle)
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")

	f.orch.RunCycle(context.Background())

	assert.Equal(t, 2, oracle.calls())
	assert.Equal(t, entity.PartitionDone, f.partition(t, "task_1"))
	assert.Empty(t, f.entries(t, entity.AuditOracleError))
}

func TestRunCycle_OracleFailureReturnsTask(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"parse error is not retried", fmt.Errorf("%w: missing confidence", errs.ErrOracleParse), 1},
		{"timeout retried then given up", fmt.Errorf("%w: after 1s", errs.ErrOracleTimeout), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &mockOracle{proposeFunc: func(context.Context, port.OracleRequest) (*entity.ProposedAction, error) {
				return nil, tt.err
			}}
			f := newFixture(t, oracle)
			f.addTask(t, "task_1", entity.PriorityP2, created, "hi")

			report := f.orch.RunCycle(context.Background())

			assert.Equal(t, tt.wantCalls, oracle.calls())
			assert.Equal(t, 1, report.OracleErrors)
			assert.Equal(t, entity.PartitionNeedsAction, f.partition(t, "task_1"))

			oracleErrors := f.entries(t, entity.AuditOracleError)
			require.Len(t, oracleErrors, 1)
			assert.Equal(t, entity.OutcomeFailure, oracleErrors[0].Outcome)
			assert.Equal(t, 1, f.orch.Stats().ConsecutiveOracleFails)
		})
	}
}

func TestRunCycle_ExecutionFailureRequeuesWithRetryCount(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`))
	f.connector.executeFunc = func(context.Context, *entity.ProposedAction, *entity.Task) (entity.ExecutionResult, error) {
		return entity.ExecutionResult{}, errors.New("ses throttled")
	}
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")
	ctx := context.Background()

	report := f.orch.RunCycle(ctx)
	assert.Equal(t, 1, report.Failed)

	task, err := f.store.Read(ctx, "task_1", entity.PartitionNeedsAction)
	require.NoError(t, err)
	assert.Equal(t, 1, task.RetryCount)
	assert.Contains(t, task.LastError, "ses throttled")

	executed := f.entries(t, entity.AuditActionExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, entity.OutcomeFailure, executed[0].Outcome)
}

func TestRunCycle_EscalatesAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`),
		func(c *Config) { c.MaxExecutionAttempts = 2 })
	f.connector.executeFunc = func(context.Context, *entity.ProposedAction, *entity.Task) (entity.ExecutionResult, error) {
		return entity.ExecutionResult{}, errors.New("ses throttled")
	}
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")
	ctx := context.Background()

	f.orch.RunCycle(ctx)
	f.orch.RunCycle(ctx)
	f.orch.RunCycle(ctx)

	assert.Equal(t, entity.PartitionPendingApproval, f.partition(t, "task_1"))
	assert.Len(t, f.connector.executed, 2)
}

func TestRunCycle_InvalidProposalRejected(t *testing.T) {
	oracle := &mockOracle{proposeFunc: func(context.Context, port.OracleRequest) (*entity.ProposedAction, error) {
		return &entity.ProposedAction{ID: "act_x", Type: "teleport", Confidence: 0.99, Details: map[string]any{}}, nil
	}}
	f := newFixture(t, oracle)
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")

	report := f.orch.RunCycle(context.Background())
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, entity.PartitionRejected, f.partition(t, "task_1"))
	assert.Len(t, f.entries(t, entity.AuditActionRejected), 1)
}

func TestRunCycle_RejectedRecordKeepsProposal(t *testing.T) {
	tests := []struct {
		name   string
		action entity.ProposedAction
	}{
		{"unknown type", entity.ProposedAction{ID: "act_x", Type: "teleport", Confidence: 0.99}},
		{"confidence above one", entity.ProposedAction{ID: "act_x", Type: entity.ActionEmailReply, Confidence: 1.5}},
		{"negative confidence", entity.ProposedAction{ID: "act_x", Type: entity.ActionEmailReply, Confidence: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &mockOracle{proposeFunc: func(context.Context, port.OracleRequest) (*entity.ProposedAction, error) {
				action := tt.action
				action.Details = map[string]any{}
				return &action, nil
			}}
			f := newFixture(t, oracle)
			f.addTask(t, "task_1", entity.PriorityP2, created, "hi")

			report := f.orch.RunCycle(context.Background())
			require.Equal(t, 1, report.Rejected)

			rejected, err := f.store.Read(context.Background(), "task_1", entity.PartitionRejected)
			require.NoError(t, err)
			require.NotNil(t, rejected.ProposedAction)
			assert.Equal(t, "act_x", rejected.ProposedAction.ID)
			assert.Equal(t, tt.action.Type, rejected.ProposedAction.Type)
		})
	}
}

func TestRunCycle_EveryTaskFullyAudited(t *testing.T) {
	confidences := map[string]float64{
		"task_a": 0.95,
		"task_b": 0.40,
		"task_c": 0.90,
		"task_d": 0.60,
		"task_e": 0.85,
		"task_f": 0.10,
	}
	oracle := &mockOracle{proposeFunc: func(_ context.Context, req port.OracleRequest) (*entity.ProposedAction, error) {
		raw := fmt.Sprintf(`{"action_type":"email_reply","confidence":%.2f,"requires_approval":false,"reasoning":"r","details":{}}`,
			confidences[req.TaskID])
		action, err := entity.ParseProposedAction([]byte(raw), time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrOracleParse, err)
		}
		return action, nil
	}}
	f := newFixture(t, oracle)
	ctx := context.Background()

	for id := range confidences {
		f.addTask(t, id, entity.PriorityP2, created, "client question")
		require.NoError(t, f.log.Record(ctx, entity.NewAuditEntry(entity.AuditTaskCreated, entity.WatcherActor("inbox"), "new file").ForTask(id)))
	}

	report := f.orch.RunCycle(ctx)
	require.Equal(t, 3, report.AutoExecuted)
	require.Equal(t, 3, report.AwaitingApproval)

	for id, c := range confidences {
		if c < 0.85 {
			_, err := f.approvals.Approve(ctx, id, "cli", "")
			require.NoError(t, err)
		}
	}
	report = f.orch.RunCycle(ctx)
	require.Equal(t, 3, report.ApprovedExecuted)

	perTask := func(typ entity.AuditEventType) map[string]int {
		counts := make(map[string]int)
		for _, e := range f.entries(t, typ) {
			counts[e.TaskID]++
		}
		return counts
	}
	createdCounts := perTask(entity.AuditTaskCreated)
	proposed := perTask(entity.AuditActionProposed)
	requested := perTask(entity.AuditApprovalRequested)
	decided := perTask(entity.AuditHumanDecision)
	executed := perTask(entity.AuditActionExecuted)

	for id, c := range confidences {
		assert.Equal(t, entity.PartitionDone, f.partition(t, id), id)
		assert.Equal(t, 1, createdCounts[id], "task_created for %s", id)
		assert.Equal(t, 1, proposed[id], "action_proposed for %s", id)
		assert.Equal(t, 1, executed[id], "action_executed for %s", id)
		if c < 0.85 {
			assert.Equal(t, 1, requested[id], "approval_requested for %s", id)
			assert.Equal(t, 1, decided[id], "human_decision for %s", id)
		} else {
			assert.Zero(t, requested[id], "approval_requested for %s", id)
			assert.Zero(t, decided[id], "human_decision for %s", id)
		}
	}
	assert.Len(t, requested, 3)
	assert.Len(t, executed, len(confidences))
}

func TestRunCycle_OrdersByPriorityThenAge(t *testing.T) {
	oracle := answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`)
	f := newFixture(t, oracle)
	f.addTask(t, "a_low_old", entity.PriorityP3, created, "x")
	f.addTask(t, "b_urgent_new", entity.PriorityP0, created.Add(time.Hour), "x")
	f.addTask(t, "c_urgent_old", entity.PriorityP0, created, "x")

	f.orch.RunCycle(context.Background())

	var order []string
	for _, r := range oracle.requests {
		order = append(order, r.TaskID)
	}
	assert.Equal(t, []string{"c_urgent_old", "b_urgent_new", "a_low_old"}, order)
}

func TestRunCycle_PassesPolicyDocuments(t *testing.T) {
	oracle := answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`)
	f := newFixture(t, oracle)
	_, err := storage.InitVault(f.root, zap.NewNop())
	require.NoError(t, err)
	f.addTask(t, "task_1", entity.PriorityP2, created, "client asks for invoice")

	f.orch.RunCycle(context.Background())

	require.Len(t, oracle.requests, 1)
	req := oracle.requests[0]
	assert.Contains(t, req.TaskText, "client asks for invoice")
	require.Len(t, req.Policies, 2)
	assert.Equal(t, storage.HandbookFile, req.Policies[0].Name)
}

func TestRunCycle_RecoversFromPanic(t *testing.T) {
	oracle := &mockOracle{proposeFunc: func(context.Context, port.OracleRequest) (*entity.ProposedAction, error) {
		panic("oracle bug")
	}}
	f := newFixture(t, oracle)
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")
	ctx := context.Background()

	report := f.orch.RunCycle(ctx)
	assert.True(t, report.Panicked)
	assert.Len(t, f.entries(t, entity.AuditOrchestratorError), 1)
	assert.Equal(t, "cycle panicked", f.orch.Stats().LastCycleError)

	assert.Equal(t, entity.PartitionInProgress, f.partition(t, "task_1"))
	assert.Equal(t, 1, f.orch.RecoverInProgress(ctx))
	assert.Equal(t, entity.PartitionNeedsAction, f.partition(t, "task_1"))
}

func TestRunCycle_ClaimRaceIsAudited(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`))
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")
	ctx := context.Background()

	impl := f.orch.(*orchestratorImpl)
	tasks := impl.snapshot(ctx, entity.PartitionNeedsAction)
	require.Len(t, tasks, 1)

	// Another actor takes the task between the snapshot and the claim.
	require.NoError(t, f.store.Move(ctx, "task_1", entity.PartitionNeedsAction, entity.PartitionRejected))

	var report CycleReport
	impl.evaluate(ctx, tasks[0], nil, &report)

	assert.Equal(t, 1, report.Races)
	assert.Zero(t, report.Evaluated)
	assert.Zero(t, f.oracle.calls())
	assert.Len(t, f.entries(t, entity.AuditStoreRace), 1)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, answer(`{"action_type":"email_reply","confidence":0.9,"requires_approval":false,"reasoning":"r","details":{}}`),
		func(c *Config) { c.Interval = time.Hour })
	f.addTask(t, "task_1", entity.PriorityP2, created, "hi")

	require.NoError(t, f.orch.Start(context.Background()))
	require.Eventually(t, func() bool {
		p, err := f.store.Locate(context.Background(), "task_1")
		return err == nil && p == entity.PartitionDone
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.orch.Stop())

	assert.Len(t, f.entries(t, entity.AuditOrchestratorStarted), 1)
	assert.Len(t, f.entries(t, entity.AuditOrchestratorStopped), 1)
	assert.GreaterOrEqual(t, f.orch.Stats().Cycles, 1)
}
