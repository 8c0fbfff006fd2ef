package event

// Type identifies the type of domain event
type Type string

const (
	TypeTaskCreated       Type = "task.created"
	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalResolved  Type = "approval.resolved"
	TypeApprovalExpired   Type = "approval.expired"
	TypeActionExecuted    Type = "action.executed"
	TypeWatcherStopped    Type = "watcher.stopped"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is recognized
func (t Type) IsValid() bool {
	switch t {
	case TypeTaskCreated,
		TypeApprovalRequested,
		TypeApprovalResolved,
		TypeApprovalExpired,
		TypeActionExecuted,
		TypeWatcherStopped:
		return true
	default:
		return false
	}
}
