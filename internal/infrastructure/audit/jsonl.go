package audit

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

const (
	segmentPrefix = "audit_"
	segmentSuffix = ".jsonl"
	segmentLayout = "200601"
)

type jsonlSink struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

func (s *jsonlSink) name() string { return "jsonl" }

func (s *jsonlSink) write(entry entity.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	line = append(line, '\n')
	return appendLine(&s.mu, segmentPath(s.dir, entry.Timestamp.In(s.loc)), line)
}

// segmentPath names the monthly segment holding entries at t.
func segmentPath(dir string, t time.Time) string {
	return filepath.Join(dir, segmentPrefix+t.Format(segmentLayout)+segmentSuffix)
}
