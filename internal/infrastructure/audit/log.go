// Package audit writes every engine fact twice: as JSON lines for machines
// and as a Markdown diary for people. The two sinks fail independently.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// sink is one encoding of the audit trail.
type sink interface {
	name() string
	write(entry entity.AuditEntry) error
}

// Log is the append-only audit trail rooted at a Logs directory.
type Log struct {
	dir    string
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
	sinks  []sink
}

// Option configures a Log
type Option func(*Log)

// WithLocation sets the zone used for segment names and narrative times
func WithLocation(loc *time.Location) Option {
	return func(l *Log) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates the log directory and both sinks.
func New(dir string, logger *zap.Logger, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	l := &Log{
		dir:    dir,
		loc:    time.Local,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.sinks = []sink{
		&jsonlSink{dir: dir, loc: l.loc},
		&narrativeSink{dir: dir, loc: l.loc},
	}
	return l, nil
}

// Dir returns the directory holding the segments.
func (l *Log) Dir() string {
	return l.dir
}

// Record appends entry to every sink. A failing sink is logged and does not
// prevent the others from being written.
func (l *Log) Record(ctx context.Context, entry entity.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if entry.Outcome == "" {
		entry.Outcome = entity.OutcomeSuccess
	}

	var failures []error
	for _, s := range l.sinks {
		if err := s.write(entry); err != nil {
			l.logger.Error("Failed to write audit entry",
				zap.String("sink", s.name()),
				zap.String("event_type", string(entry.EventType)),
				zap.String("task_id", entry.TaskID),
				zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", s.name(), err))
		}
	}
	return errors.Join(failures...)
}

// appendLine writes b to path with a single O_APPEND write.
func appendLine(mu *sync.Mutex, path string, b []byte) error {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var _ port.AuditSink = (*Log)(nil)
