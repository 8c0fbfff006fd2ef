package taskstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func sampleTask(id string) *entity.Task {
	return &entity.Task{
		ID:        id,
		Source:    "manual",
		Priority:  entity.PriorityP1,
		CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Title:     "Client asked for invoice copy",
		Sender:    "client@example.com",
		Content:   "Hi,\nplease resend the February invoice.\n",
		Payload:   map[string]any{"thread": "abc"},
	}
}

func collect(t *testing.T, s *Store, p entity.Partition) []*entity.Task {
	t.Helper()
	var out []*entity.Task
	for task, err := range s.List(context.Background(), p) {
		require.NoError(t, err)
		out = append(out, task)
	}
	return out
}

func TestNew_CreatesPartitions(t *testing.T) {
	s := newTestStore(t)
	for _, p := range entity.Partitions {
		info, err := os.Stat(s.Dir(p))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestPutRead_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := sampleTask("task_1")

	require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, task))

	got, err := s.Read(ctx, "task_1", entity.PartitionNeedsAction)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Sender, got.Sender)
	assert.Equal(t, "Hi,\nplease resend the February invoice.", got.Content)
	assert.Equal(t, entity.PriorityP1, got.Priority)
	assert.Equal(t, entity.PartitionNeedsAction, got.Status)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "abc", got.Payload["thread"])
	assert.Nil(t, got.ProposedAction)
}

func TestPut_DuplicateIDAcrossPartitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask("task_1")))
	require.NoError(t, s.Move(ctx, "task_1", entity.PartitionNeedsAction, entity.PartitionDone))

	err := s.Put(ctx, entity.PartitionNeedsAction, sampleTask("task_1"))
	assert.True(t, errors.Is(err, errs.ErrDuplicateID))

	n, err := s.Count(ctx, entity.PartitionNeedsAction)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPut_RejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, errors.Is(s.Put(ctx, entity.Partition("Archive"), sampleTask("x")), errs.ErrInvalidPartition))
	assert.Error(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask("../escape")))
}

func TestMove_SecondMoveFailsWithNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask("task_1")))

	require.NoError(t, s.Move(ctx, "task_1", entity.PartitionNeedsAction, entity.PartitionInProgress))
	err := s.Move(ctx, "task_1", entity.PartitionNeedsAction, entity.PartitionInProgress)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	p, err := s.Locate(ctx, "task_1")
	require.NoError(t, err)
	assert.Equal(t, entity.PartitionInProgress, p)
}

func TestMove_RepeatedAcrossPartitionsIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionPendingApproval, sampleTask("task_p")))

	require.NoError(t, s.Move(ctx, "task_p", entity.PartitionPendingApproval, entity.PartitionApproved))
	err := s.Move(ctx, "task_p", entity.PartitionPendingApproval, entity.PartitionApproved)
	assert.True(t, errors.Is(err, errs.ErrNotFound), err)
	assert.False(t, errors.Is(err, errs.ErrDuplicateID))

	err = s.Move(ctx, "task_p", entity.PartitionPendingApproval, entity.PartitionPendingApproval)
	assert.True(t, errors.Is(err, errs.ErrNotFound), err)
}

func TestMove_DestinationOccupiedIsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionPendingApproval, sampleTask("task_1")))

	// A human copied the file instead of moving it.
	data, err := os.ReadFile(filepath.Join(s.Dir(entity.PartitionPendingApproval), "task_1.md"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(entity.PartitionApproved), "task_1.md"), data, 0o644))

	err = s.Move(ctx, "task_1", entity.PartitionPendingApproval, entity.PartitionApproved)
	assert.True(t, errors.Is(err, errs.ErrDuplicateID), err)
}

func TestInbox_HoldsDropsNotRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inbox := s.Dir(entity.PartitionInbox)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "notes.md"), []byte("call the bank"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "scan.pdf"), []byte("%PDF-fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, ".partial"), []byte("x"), 0o644))

	reopened, err := New(s.Root(), zap.NewNop())
	require.NoError(t, err)

	_, err = reopened.Locate(ctx, "notes")
	assert.True(t, errors.Is(err, errs.ErrNotFound), err)

	for _, err := range reopened.List(ctx, entity.PartitionInbox) {
		assert.True(t, errors.Is(err, errs.ErrInvalidPartition), err)
	}
	assert.True(t, errors.Is(reopened.Put(ctx, entity.PartitionInbox, sampleTask("notes")), errs.ErrInvalidPartition))

	n, err := reopened.Count(ctx, entity.PartitionInbox)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMove_ConcurrentOnlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionPendingApproval, sampleTask("task_1")))

	targets := []entity.Partition{entity.PartitionApproved, entity.PartitionRejected}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(to entity.Partition) {
			defer wg.Done()
			err := s.Move(ctx, "task_1", entity.PartitionPendingApproval, to)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.True(t, errors.Is(err, errs.ErrNotFound), err)
		}(targets[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	total := 0
	for _, p := range entity.Partitions {
		n, err := s.Count(ctx, p)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 1, total, "task must live in exactly one partition")
}

func TestList_IsSnapshotAndSkipsVanished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask(id)))
	}

	seq := s.List(ctx, entity.PartitionNeedsAction)

	require.NoError(t, s.Move(ctx, "b", entity.PartitionNeedsAction, entity.PartitionInProgress))
	require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask("d")))

	var ids []string
	for task, err := range seq {
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestList_IgnoresTempAndForeignFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask("a")))

	dir := s.Dir(entity.PartitionNeedsAction)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".a.123.tmp"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	tasks := collect(t, s, entity.PartitionNeedsAction)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].ID)
}

func TestList_ReportsCorruptRecordAndContinues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionNeedsAction, sampleTask("b")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(entity.PartitionNeedsAction), "a.md"),
		[]byte("---\nid: [unterminated\n"), 0o644))

	var good, bad int
	for task, err := range s.List(ctx, entity.PartitionNeedsAction) {
		if err != nil {
			bad++
			continue
		}
		good++
		assert.Equal(t, "b", task.ID)
	}
	assert.Equal(t, 1, good)
	assert.Equal(t, 1, bad)
}

func TestUpdate_RewritesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := sampleTask("task_1")
	require.NoError(t, s.Put(ctx, entity.PartitionInProgress, task))

	task.RetryCount = 2
	task.LastError = "smtp timeout"
	task.ProposedAction = &entity.ProposedAction{
		ID:         "act_1",
		Type:       entity.ActionEmailReply,
		Confidence: 0.9,
		Reasoning:  "known client",
		Details:    map[string]any{"to": "client@example.com"},
	}
	require.NoError(t, s.Update(ctx, entity.PartitionInProgress, task))

	got, err := s.Read(ctx, "task_1", entity.PartitionInProgress)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "smtp timeout", got.LastError)
	require.NotNil(t, got.ProposedAction)
	assert.Equal(t, entity.ActionEmailReply, got.ProposedAction.Type)
	assert.Equal(t, "client@example.com", got.ProposedAction.DetailString("to"))
	assert.Equal(t, "Hi,\nplease resend the February invoice.", got.Content)

	err = s.Update(ctx, entity.PartitionNeedsAction, task)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestDeleteAndLocate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionDone, sampleTask("task_1")))

	require.NoError(t, s.Delete(ctx, "task_1", entity.PartitionDone))
	_, err := s.Locate(ctx, "task_1")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "task_1", entity.PartitionDone), errs.ErrNotFound))
}

func TestLocate_FollowsExternalMoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entity.PartitionPendingApproval, sampleTask("task_1")))

	require.NoError(t, os.Rename(
		filepath.Join(s.Dir(entity.PartitionPendingApproval), "task_1.md"),
		filepath.Join(s.Dir(entity.PartitionApproved), "task_1.md"),
	))

	p, err := s.Locate(ctx, "task_1")
	require.NoError(t, err)
	assert.Equal(t, entity.PartitionApproved, p)

	got, err := s.Read(ctx, "task_1", entity.PartitionApproved)
	require.NoError(t, err)
	assert.Equal(t, entity.PartitionApproved, got.Status)
}

func TestNew_IndexesExistingRecords(t *testing.T) {
	root := t.TempDir()
	s1, err := New(root, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Put(context.Background(), entity.PartitionRejected, sampleTask("task_1")))

	s2, err := New(root, zap.NewNop())
	require.NoError(t, err)
	err = s2.Put(context.Background(), entity.PartitionNeedsAction, sampleTask("task_1"))
	assert.True(t, errors.Is(err, errs.ErrDuplicateID))
}
