// Package watcher turns external signals into tasks. Each Source is driven by
// its own Runner, which owns the lifecycle, backoff and health bookkeeping.
package watcher

import (
	"context"
	"time"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// RawEvent is a source-specific observation before translation.
type RawEvent struct {
	// ID identifies the event within its source; it is the dedup key.
	ID         string
	Kind       string
	ObservedAt time.Time
	Sender     string
	Subject    string
	Body       string
	Data       map[string]any
}

// Source is one external signal provider.
type Source interface {
	Name() string

	// Initialize connects to the source. A failure here is fatal for the runner.
	Initialize(ctx context.Context) error

	// CheckForEvents returns new events in observed order.
	CheckForEvents(ctx context.Context) ([]RawEvent, error)

	// Translate converts an event into a task. A nil task means the event
	// needs no action and is only marked as processed.
	Translate(evt RawEvent) (*entity.Task, error)

	Prioritize(evt RawEvent) entity.Priority

	Cleanup() error
}
