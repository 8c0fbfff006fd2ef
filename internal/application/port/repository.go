package port

import (
	"context"
	"time"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// ApprovalRepository persists approval requests.
type ApprovalRepository interface {
	Create(ctx context.Context, req *entity.ApprovalRequest) error

	// LatestForTask returns the newest request for a task or errs.ErrNotFound.
	LatestForTask(ctx context.Context, taskID string) (*entity.ApprovalRequest, error)

	// Resolve sets a terminal resolution on a pending request. It returns
	// false without error when the request was no longer pending.
	Resolve(ctx context.Context, id string, resolution entity.Resolution, by, note string, at time.Time) (bool, error)

	// ListByResolution returns requests in a given state, oldest first.
	ListByResolution(ctx context.Context, resolution entity.Resolution) ([]*entity.ApprovalRequest, error)
}

// DedupIndex remembers which source events already produced a task.
type DedupIndex interface {
	Seen(ctx context.Context, source, key string) (bool, error)
	Mark(ctx context.Context, source, key, taskID string) error
}
