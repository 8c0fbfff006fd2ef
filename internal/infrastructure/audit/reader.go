package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

const maxLineBytes = 1 << 20

// Filter narrows a query. Zero values match everything.
type Filter struct {
	From      time.Time
	To        time.Time
	TaskID    string
	EventType entity.AuditEventType
	Limit     int
}

func (f Filter) match(e entity.AuditEntry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	return true
}

// Timeline returns entries in [from, to) ordered by timestamp.
func (l *Log) Timeline(ctx context.Context, from, to time.Time) ([]entity.AuditEntry, error) {
	return l.Query(ctx, Filter{From: from, To: to})
}

// Query reads every relevant segment and merges the matching entries by
// timestamp. Malformed lines are skipped and logged. With a Limit, the most
// recent entries are kept.
func (l *Log) Query(ctx context.Context, f Filter) ([]entity.AuditEntry, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit segments: %w", err)
	}

	var out []entity.AuditEntry
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !l.segmentOverlaps(path, f) {
			continue
		}
		entries, err := l.readSegment(path, f)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// segmentOverlaps skips monthly segments entirely outside the filter range.
// Unparseable names are always read.
func (l *Log) segmentOverlaps(path string, f Filter) bool {
	stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), segmentPrefix), segmentSuffix)
	start, err := time.ParseInLocation(segmentLayout, stamp, l.loc)
	if err != nil {
		return true
	}
	end := start.AddDate(0, 1, 0)

	if !f.From.IsZero() && !end.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !start.Before(f.To) {
		return false
	}
	return true
}

func (l *Log) readSegment(path string, f Filter) ([]entity.AuditEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit segment: %w", err)
	}
	defer file.Close()

	var (
		out     []entity.AuditEntry
		lineNo  int
		skipped int
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var e entity.AuditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Timestamp.IsZero() {
			skipped++
			continue
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	if skipped > 0 {
		l.logger.Warn("Skipped malformed audit lines",
			zap.String("segment", filepath.Base(path)),
			zap.Int("skipped", skipped),
			zap.Int("lines", lineNo))
	}
	return out, nil
}

var _ port.AuditReader = (*Log)(nil)
