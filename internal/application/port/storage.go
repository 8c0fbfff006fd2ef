package port

import (
	"context"
	"iter"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// TaskStore is the durable, partitioned queue of tasks. Every task lives in
// exactly one partition; moves between partitions are atomic.
type TaskStore interface {
	// Put writes a new task into a partition. Fails with errs.ErrDuplicateID
	// if the id exists anywhere in the store.
	Put(ctx context.Context, partition entity.Partition, task *entity.Task) error

	// Move relocates a task. Fails with errs.ErrNotFound if it is no longer in from.
	Move(ctx context.Context, id string, from, to entity.Partition) error

	// List yields a snapshot of the partition taken when List is called.
	List(ctx context.Context, partition entity.Partition) iter.Seq2[*entity.Task, error]

	Read(ctx context.Context, id string, partition entity.Partition) (*entity.Task, error)
	Delete(ctx context.Context, id string, partition entity.Partition) error

	// Update rewrites a task in place. Only used on partitions the caller owns.
	Update(ctx context.Context, partition entity.Partition, task *entity.Task) error

	// Locate returns the partition currently holding id.
	Locate(ctx context.Context, id string) (entity.Partition, error)

	Count(ctx context.Context, partition entity.Partition) (int, error)
}
