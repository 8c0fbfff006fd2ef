package entity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Partition is a named queue of the task store. A task lives in exactly one
// partition at a time and its status is the partition it is found in.
type Partition string

const (
	PartitionInbox           Partition = "Inbox"
	PartitionNeedsAction     Partition = "Needs_Action"
	PartitionInProgress      Partition = "In_Progress"
	PartitionPendingApproval Partition = "Pending_Approval"
	PartitionApproved        Partition = "Approved"
	PartitionRejected        Partition = "Rejected"
	PartitionDone            Partition = "Done"
)

// Partitions lists every partition in lifecycle order.
var Partitions = []Partition{
	PartitionInbox,
	PartitionNeedsAction,
	PartitionInProgress,
	PartitionPendingApproval,
	PartitionApproved,
	PartitionRejected,
	PartitionDone,
}

var terminalPartitions = map[Partition]bool{
	PartitionDone:     true,
	PartitionRejected: true,
}

// IsValid reports whether p names a known partition.
func (p Partition) IsValid() bool {
	for _, known := range Partitions {
		if p == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether tasks in p are never moved again by the engine.
func (p Partition) IsTerminal() bool {
	return terminalPartitions[p]
}

// HoldsRecords reports whether p stores task records. Inbox holds raw
// pre-triage drops that only the inbox watcher reads.
func (p Partition) HoldsRecords() bool {
	return p.IsValid() && p != PartitionInbox
}

// RecordPartitions lists the partitions that hold task records.
func RecordPartitions() []Partition {
	out := make([]Partition, 0, len(Partitions)-1)
	for _, p := range Partitions {
		if p.HoldsRecords() {
			out = append(out, p)
		}
	}
	return out
}

func (p Partition) String() string {
	return string(p)
}

// Priority orders work; P0 is the most urgent.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Rank returns 0 for P0 through 3 for P3. Unknown priorities rank last.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	default:
		return 4
	}
}

// IsValid reports whether p is one of P0-P3.
func (p Priority) IsValid() bool {
	return p.Rank() < 4
}

// Task is a unit of work flowing through the vault partitions.
type Task struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	Priority       Priority        `json:"priority"`
	Status         Partition       `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	Title          string          `json:"title"`
	Sender         string          `json:"sender,omitempty"`
	Content        string          `json:"content"`
	Payload        map[string]any  `json:"payload,omitempty"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
	ProposedAction *ProposedAction `json:"proposed_action,omitempty"`
}

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateTaskID checks that id can be used verbatim as a file name.
func ValidateTaskID(id string) error {
	if !taskIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid task id %q", id)
	}
	return nil
}

// NewTaskID returns a sortable, filename-safe identifier.
func NewTaskID(now time.Time) string {
	return fmt.Sprintf("task_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// NewTask creates a task with a fresh id and default priority.
func NewTask(source, title, content string, now time.Time) *Task {
	return &Task{
		ID:        NewTaskID(now),
		Source:    source,
		Priority:  PriorityP3,
		CreatedAt: now.UTC(),
		Title:     title,
		Content:   content,
	}
}

// Text renders the task as the plain-text context handed to the oracle.
func (t *Task) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", t.ID)
	fmt.Fprintf(&b, "Source: %s\n", t.Source)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	if t.Sender != "" {
		fmt.Fprintf(&b, "Sender: %s\n", t.Sender)
	}
	fmt.Fprintf(&b, "Created: %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.RetryCount > 0 {
		fmt.Fprintf(&b, "Previous attempts: %d (last error: %s)\n", t.RetryCount, t.LastError)
	}
	fmt.Fprintf(&b, "Title: %s\n\n", t.Title)
	b.WriteString(t.Content)
	return b.String()
}

// Clone returns a copy that shares no mutable maps with t.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	if t.ProposedAction != nil {
		a := *t.ProposedAction
		c.ProposedAction = &a
	}
	return &c
}

// Less orders tasks for evaluation: priority first, then age, then id.
func Less(a, b *Task) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
