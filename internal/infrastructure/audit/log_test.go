package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "Logs"), zap.NewNop(), WithLocation(time.UTC))
	require.NoError(t, err)
	return l
}

func at(day, hour, min int) time.Time {
	return time.Date(2026, 3, day, hour, min, 0, 0, time.UTC)
}

func TestRecord_WritesBothEncodings(t *testing.T) {
	l := newTestLog(t)
	entry := entity.NewAuditEntry(entity.AuditActionExecuted, entity.ActorAI, "email sent to client").
		ForTask("task_1").
		ForAction("act_1")
	entry.Timestamp = at(1, 14, 5)

	require.NoError(t, l.Record(context.Background(), entry))

	jsonl, err := os.ReadFile(filepath.Join(l.Dir(), "audit_202603.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(jsonl), `"event_type":"action_executed"`)
	assert.Contains(t, string(jsonl), `"task_id":"task_1"`)
	assert.Contains(t, string(jsonl), `"outcome":"success"`)
	assert.NotContains(t, string(jsonl), `"error"`)

	md, err := os.ReadFile(filepath.Join(l.Dir(), "daily_log_20260301.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Daily Log 2026-03-01\n\n"))
	assert.Contains(t, string(md), "- 14:05:00 ✅ **action_executed** by ai on `task_1`: email sent to client\n")
}

func TestRecord_FailureMarkedInNarrative(t *testing.T) {
	l := newTestLog(t)
	entry := entity.NewAuditEntry(entity.AuditOracleError, entity.ActorSystem, "oracle call").
		ForTask("task_2").
		Failed(errors.New("timeout after 30s"))
	entry.Timestamp = at(2, 8, 0)

	require.NoError(t, l.Record(context.Background(), entry))

	md, err := os.ReadFile(filepath.Join(l.Dir(), "daily_log_20260302.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "❌ **oracle_error**")
	assert.Contains(t, string(md), "(error: timeout after 30s)")
}

func TestRecord_OneSinkFailingDoesNotBlockTheOther(t *testing.T) {
	l := newTestLog(t)
	// A directory where the narrative file should be makes that sink fail.
	require.NoError(t, os.Mkdir(filepath.Join(l.Dir(), "daily_log_20260303.md"), 0o755))

	entry := entity.NewAuditEntry(entity.AuditTaskCreated, entity.WatcherActor("inbox"), "new file")
	entry.Timestamp = at(3, 9, 0)

	err := l.Record(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrative")

	entries, err := l.Timeline(context.Background(), at(3, 0, 0), at(4, 0, 0))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditTaskCreated, entries[0].EventType)
}

func TestRecord_FillsTimestampAndOutcome(t *testing.T) {
	fixed := at(5, 12, 0)
	l, err := New(t.TempDir(), zap.NewNop(), WithLocation(time.UTC), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	require.NoError(t, l.Record(context.Background(), entity.AuditEntry{EventType: entity.AuditHealthCheck, Actor: entity.ActorSystem}))

	entries, err := l.Timeline(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, fixed.Equal(entries[0].Timestamp))
	assert.Equal(t, entity.OutcomeSuccess, entries[0].Outcome)
}

func TestTimeline_MergesSegmentsAndToleratesDisorder(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	times := []time.Time{
		time.Date(2026, 2, 27, 23, 0, 0, 0, time.UTC),
		at(2, 10, 0),
		at(1, 10, 0),
		time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC),
	}
	for i, ts := range times {
		e := entity.NewAuditEntry(entity.AuditTaskCreated, entity.ActorSystem, "")
		e.TaskID = []string{"feb", "mar2", "mar1", "apr"}[i]
		e.Timestamp = ts
		require.NoError(t, l.Record(ctx, e))
	}

	// A malformed line and a blank line in the March segment.
	f, err := os.OpenFile(filepath.Join(l.Dir(), "audit_202603.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	all, err := l.Timeline(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	var ids []string
	for _, e := range all {
		ids = append(ids, e.TaskID)
	}
	assert.Equal(t, []string{"feb", "mar1", "mar2", "apr"}, ids)

	march, err := l.Timeline(ctx, at(1, 0, 0), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, "mar1", march[0].TaskID)
}

func TestQuery_Filters(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := entity.NewAuditEntry(entity.AuditActionProposed, entity.ActorAI, "")
		if i%2 == 0 {
			e.EventType = entity.AuditActionExecuted
		}
		e.TaskID = "task_a"
		if i == 4 {
			e.TaskID = "task_b"
		}
		e.Timestamp = at(10, 9, i)
		require.NoError(t, l.Record(ctx, e))
	}

	byTask, err := l.Query(ctx, Filter{TaskID: "task_a"})
	require.NoError(t, err)
	assert.Len(t, byTask, 4)

	byType, err := l.Query(ctx, Filter{EventType: entity.AuditActionExecuted})
	require.NoError(t, err)
	assert.Len(t, byType, 3)

	latest, err := l.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "task_b", latest[1].TaskID)
}

func TestRecord_ConcurrentWritersKeepLinesIntact(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := entity.NewAuditEntry(entity.AuditWatcherError, entity.WatcherActor("w"), strings.Repeat("x", 200))
			e.Timestamp = at(12, 10, 0).Add(time.Duration(i) * time.Second)
			assert.NoError(t, l.Record(ctx, e))
		}(i)
	}
	wg.Wait()

	entries, err := l.Timeline(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}
