package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
)

// DedupRepository implements port.DedupIndex on the processed_events table
type DedupRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDedupRepository creates a new processed-event index
func NewDedupRepository(db *sql.DB, logger *zap.Logger) *DedupRepository {
	return &DedupRepository{
		db:     db,
		logger: logger,
	}
}

// Seen reports whether source already produced a task for key
func (r *DedupRepository) Seen(ctx context.Context, source, key string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM processed_events WHERE source = ? AND event_key = ?", source, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query processed events: %w", err)
	}
	return true, nil
}

// Mark records key as processed; marking twice is a no-op
func (r *DedupRepository) Mark(ctx context.Context, source, key, taskID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (source, event_key, task_id, created_at)
		VALUES (?, ?, ?, ?)`,
		source, key, taskID, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to mark event processed",
			zap.String("source", source),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

var _ port.DedupIndex = (*DedupRepository)(nil)
