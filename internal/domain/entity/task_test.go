package entity

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTaskID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"task_20260301_090000_ab12cd34", true},
		{"email-123.reply", true},
		{"", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{".hidden", false},
		{"a..b", false},
		{"with space", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateTaskID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewTaskID_IsValidAndUnique(t *testing.T) {
	now := time.Now()
	a, b := NewTaskID(now), NewTaskID(now)
	require.NoError(t, ValidateTaskID(a))
	assert.NotEqual(t, a, b)
}

func TestLess_OrdersByPriorityThenAgeThenID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []*Task{
		{ID: "d", Priority: PriorityP3, CreatedAt: base},
		{ID: "c", Priority: PriorityP0, CreatedAt: base.Add(time.Hour)},
		{ID: "b", Priority: PriorityP0, CreatedAt: base},
		{ID: "a", Priority: PriorityP0, CreatedAt: base},
		{ID: "e", Priority: PriorityP1, CreatedAt: base.Add(-time.Hour)},
	}

	sort.Slice(tasks, func(i, j int) bool { return Less(tasks[i], tasks[j]) })

	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "e", "d"}, ids)
}

func TestPartition(t *testing.T) {
	assert.True(t, PartitionDone.IsTerminal())
	assert.True(t, PartitionRejected.IsTerminal())
	assert.False(t, PartitionPendingApproval.IsTerminal())
	assert.True(t, PartitionInbox.IsValid())
	assert.False(t, Partition("Archive").IsValid())

	assert.False(t, PartitionInbox.HoldsRecords())
	assert.True(t, PartitionNeedsAction.HoldsRecords())
	assert.NotContains(t, RecordPartitions(), PartitionInbox)
	assert.Len(t, RecordPartitions(), len(Partitions)-1)
}

func TestTask_CloneIsIndependent(t *testing.T) {
	orig := &Task{ID: "x", Payload: map[string]any{"k": "v"}, ProposedAction: &ProposedAction{ID: "a1"}}
	c := orig.Clone()
	c.Payload["k"] = "changed"
	c.ProposedAction.ID = "a2"

	assert.Equal(t, "v", orig.Payload["k"])
	assert.Equal(t, "a1", orig.ProposedAction.ID)
}
