package entity

import "time"

// Resolution is the state of an approval request. Anything other than
// pending is terminal.
type Resolution string

const (
	ResolutionPending  Resolution = "pending"
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
	ResolutionExpired  Resolution = "expired"
)

// IsTerminal reports whether the resolution can no longer change.
func (r Resolution) IsTerminal() bool {
	return r != ResolutionPending
}

// ApprovalRequest records that a proposed action is waiting for a human.
type ApprovalRequest struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	ActionID   string     `json:"action_id"`
	ActionType ActionType `json:"action_type"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Resolution Resolution `json:"resolution"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// IsExpiredAt reports whether a pending request has passed its deadline.
func (r *ApprovalRequest) IsExpiredAt(now time.Time) bool {
	return r.Resolution == ResolutionExpired ||
		(r.Resolution == ResolutionPending && !now.Before(r.ExpiresAt))
}
