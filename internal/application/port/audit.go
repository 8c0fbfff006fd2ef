package port

import (
	"context"
	"time"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// AuditSink appends entries to the audit trail. A returned error means at
// least one encoding failed; callers log it and carry on.
type AuditSink interface {
	Record(ctx context.Context, entry entity.AuditEntry) error
}

// AuditReader reads the structured audit trail back.
type AuditReader interface {
	// Timeline returns entries with from <= timestamp < to, oldest first.
	Timeline(ctx context.Context, from, to time.Time) ([]entity.AuditEntry, error)
}
