package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
)

// ApprovalRepository implements port.ApprovalRepository on sqlite
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval request repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, task_id, action_id, action_type, created_at, expires_at,
	resolution, resolved_at, resolved_by, note`

// Create inserts a new pending request
func (r *ApprovalRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	if req.Resolution == "" {
		req.Resolution = entity.ResolutionPending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.TaskID,
		req.ActionID,
		string(req.ActionType),
		req.CreatedAt.UTC(),
		req.ExpiresAt.UTC(),
		string(req.Resolution),
		nullTime(req.ResolvedAt),
		req.ResolvedBy,
		req.Note,
	)
	if err != nil {
		r.logger.Error("Failed to create approval request",
			zap.String("task_id", req.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

// LatestForTask returns the most recent request for a task
func (r *ApprovalRepository) LatestForTask(ctx context.Context, taskID string) (*entity.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE task_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, taskID)

	req, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: approval request for task %s", errs.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return req, nil
}

// Resolve moves a pending request to a terminal resolution. The WHERE clause
// makes concurrent resolutions race-free: only one caller sees true.
func (r *ApprovalRepository) Resolve(ctx context.Context, id string, resolution entity.Resolution, by, note string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET resolution = ?, resolved_at = ?, resolved_by = ?, note = ?
		WHERE id = ? AND resolution = 'pending'`,
		string(resolution), at.UTC(), by, note, id)
	if err != nil {
		r.logger.Error("Failed to resolve approval request",
			zap.String("id", id),
			zap.String("resolution", string(resolution)),
			zap.Error(err))
		return false, fmt.Errorf("failed to resolve approval request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListByResolution returns requests with the given resolution, oldest first
func (r *ApprovalRepository) ListByResolution(ctx context.Context, resolution entity.Resolution) ([]*entity.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE resolution = ?
		ORDER BY created_at ASC, rowid ASC`, string(resolution))
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(s scanner) (*entity.ApprovalRequest, error) {
	var (
		req        entity.ApprovalRequest
		actionType string
		resolution string
		resolvedAt sql.NullTime
	)

	if err := s.Scan(
		&req.ID,
		&req.TaskID,
		&req.ActionID,
		&actionType,
		&req.CreatedAt,
		&req.ExpiresAt,
		&resolution,
		&resolvedAt,
		&req.ResolvedBy,
		&req.Note,
	); err != nil {
		return nil, err
	}

	req.ActionType = entity.ActionType(actionType)
	req.Resolution = entity.Resolution(resolution)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return &req, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
