package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/pkg/utils"
)

type narrativeSink struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

func (s *narrativeSink) name() string { return "narrative" }

func (s *narrativeSink) write(entry entity.AuditEntry) error {
	ts := entry.Timestamp.In(s.loc)
	path := filepath.Join(s.dir, "daily_log_"+ts.Format("20060102")+".md")

	var b strings.Builder
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(&b, "# Daily Log %s\n\n", ts.Format("2006-01-02"))
	}
	b.WriteString(narrativeLine(entry, ts))

	return appendLine(&s.mu, path, []byte(b.String()))
}

func narrativeLine(entry entity.AuditEntry, ts time.Time) string {
	mark := "✅"
	if entry.Outcome == entity.OutcomeFailure {
		mark = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "- %s %s **%s** by %s", ts.Format("15:04:05"), mark, entry.EventType, entry.Actor)
	if entry.TaskID != "" {
		fmt.Fprintf(&b, " on `%s`", entry.TaskID)
	}
	if entry.Detail != "" {
		b.WriteString(": " + utils.OneLine(entry.Detail, 300))
	}
	if entry.Error != "" {
		b.WriteString(" (error: " + utils.OneLine(entry.Error, 300) + ")")
	}
	b.WriteString("\n")
	return b.String()
}
