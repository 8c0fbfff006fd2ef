package briefing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/infrastructure/audit"
	"github.com/garyjia/digital-fte/internal/infrastructure/taskstore"
)

var now = time.Date(2026, 6, 8, 9, 0, 0, 0, time.UTC)

type fixture struct {
	gen   *Generator
	store *taskstore.Store
	log   *audit.Log
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := taskstore.New(root, zap.NewNop())
	require.NoError(t, err)
	log, err := audit.New(filepath.Join(root, "Logs"), zap.NewNop(), audit.WithLocation(time.UTC))
	require.NoError(t, err)

	out := filepath.Join(root, "Briefings")
	gen := NewGenerator(store, log, out, zap.NewNop())
	gen.now = func() time.Time { return now }
	return &fixture{gen: gen, store: store, log: log, dir: out}
}

func (f *fixture) put(t *testing.T, p entity.Partition, id string, created time.Time) {
	t.Helper()
	task := &entity.Task{ID: id, Source: "manual", Priority: entity.PriorityP2, CreatedAt: created, Title: "title " + id, Content: "body"}
	require.NoError(t, f.store.Put(context.Background(), p, task))
}

func (f *fixture) record(t *testing.T, at time.Time, e entity.AuditEntry) {
	t.Helper()
	e.Timestamp = at
	require.NoError(t, f.log.Record(context.Background(), e))
}

func TestCollect(t *testing.T) {
	f := newFixture(t)
	day := 24 * time.Hour

	// Old task finished this week, old task finished long ago, new task done.
	f.put(t, entity.PartitionDone, "task_old_recent", now.Add(-20*day))
	f.put(t, entity.PartitionDone, "task_old_stale", now.Add(-30*day))
	f.put(t, entity.PartitionDone, "task_new", now.Add(-2*day))
	f.put(t, entity.PartitionPendingApproval, "task_wait_long", now.Add(-3*day))
	f.put(t, entity.PartitionPendingApproval, "task_wait_short", now.Add(-1*day))

	f.record(t, now.Add(-1*day), entity.NewAuditEntry(entity.AuditActionExecuted, entity.ActorSystem, "sent").ForTask("task_old_recent"))
	f.record(t, now.Add(-1*day), entity.NewAuditEntry(entity.AuditHumanDecision, "human:cli", "approved: fine").ForTask("task_old_recent"))
	f.record(t, now.Add(-2*day), entity.NewAuditEntry(entity.AuditHumanDecision, "human:cli", "rejected"))
	f.record(t, now.Add(-3*day), entity.NewAuditEntry(entity.AuditOracleError, entity.ActorAI, "timeout").Failed(errors.New("deadline")))
	f.record(t, now.Add(-10*day), entity.NewAuditEntry(entity.AuditActionExecuted, entity.ActorSystem, "sent").ForTask("task_old_stale"))

	report, err := f.gen.Collect(context.Background(), DefaultPeriod)
	require.NoError(t, err)

	var done []string
	for _, r := range report.Completed {
		done = append(done, r.ID)
	}
	assert.Equal(t, []string{"task_old_recent", "task_new"}, done)

	require.Len(t, report.Pending, 2)
	assert.Equal(t, "task_wait_long", report.Pending[0].ID)
	assert.InDelta(t, 3.0, report.Pending[0].AgeDays, 0.01)

	assert.Equal(t, 1, report.Approvals)
	assert.Equal(t, 1, report.Rejections)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.EventCounts[entity.AuditActionExecuted])
	assert.Equal(t, 2, report.EventCounts[entity.AuditHumanDecision])
}

func TestGenerate_WritesWorkbook(t *testing.T) {
	f := newFixture(t)
	f.put(t, entity.PartitionDone, "task_a", now.Add(-time.Hour))
	f.put(t, entity.PartitionPendingApproval, "task_b", now.Add(-2*time.Hour))
	f.record(t, now.Add(-time.Minute), entity.NewAuditEntry(entity.AuditHealthCheck, entity.ActorSystem, "ok"))

	path, report, err := f.gen.Generate(context.Background(), DefaultPeriod)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "2026-06-08_Briefing.xlsx"), path)
	assert.Len(t, report.Completed, 1)

	wb, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, []string{SheetSummary, SheetCompleted, SheetPending, SheetActivity}, wb.GetSheetList())

	v, err := wb.GetCellValue(SheetSummary, "B2")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = wb.GetCellValue(SheetCompleted, "A2")
	require.NoError(t, err)
	assert.Equal(t, "task_a", v)

	v, err = wb.GetCellValue(SheetPending, "B2")
	require.NoError(t, err)
	assert.Equal(t, "title task_b", v)

	v, err = wb.GetCellValue(SheetActivity, "A2")
	require.NoError(t, err)
	assert.Equal(t, "health_check", v)
}
