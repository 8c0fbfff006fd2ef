// Package health assembles the system health snapshot shown by the status
// API, the CLI and the vault dashboard.
package health

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/schedule"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// OracleFailureThreshold marks the system degraded after this many
// consecutive oracle failures.
const OracleFailureThreshold = 3

// WatcherSource reports the health of every watcher
type WatcherSource interface {
	Snapshot() []entity.WatcherHealth
}

// StatsSource reports orchestrator counters
type StatsSource interface {
	Stats() entity.OrchestratorStats
}

// PendingSource lists open approval requests
type PendingSource interface {
	Pending(ctx context.Context) ([]*entity.ApprovalRequest, error)
}

// Deps are the components a monitor inspects. Any of them may be nil.
type Deps struct {
	Store        port.TaskStore
	Watchers     WatcherSource
	Orchestrator StatsSource
	Approvals    PendingSource
	Audit        port.AuditSink
}

// Monitor checks system health and publishes it to the audit trail and the
// vault dashboard
type Monitor struct {
	deps          Deps
	dashboardPath string
	interval      time.Duration
	logger        *zap.Logger
	now           func() time.Time

	loop *schedule.Loop
}

// NewMonitor creates a monitor. An empty dashboardPath skips the dashboard.
func NewMonitor(deps Deps, dashboardPath string, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		deps:          deps,
		dashboardPath: dashboardPath,
		interval:      interval,
		logger:        logger,
		now:           time.Now,
	}
}

// Check builds a health snapshot
func (m *Monitor) Check(ctx context.Context) entity.SystemHealth {
	h := entity.SystemHealth{
		Timestamp:  m.now().UTC(),
		Status:     entity.SystemOperational,
		Partitions: make(map[entity.Partition]int, len(entity.Partitions)),
	}

	if m.deps.Store != nil {
		for _, p := range entity.Partitions {
			n, err := m.deps.Store.Count(ctx, p)
			if err != nil {
				h.Problems = append(h.Problems, fmt.Sprintf("cannot count %s: %v", p, err))
				continue
			}
			h.Partitions[p] = n
		}
	}

	if m.deps.Watchers != nil {
		h.Watchers = m.deps.Watchers.Snapshot()
		sort.Slice(h.Watchers, func(i, j int) bool { return h.Watchers[i].Name < h.Watchers[j].Name })
		for _, w := range h.Watchers {
			switch {
			case w.Fatal:
				h.Problems = append(h.Problems, fmt.Sprintf("watcher %s stopped: %s", w.Name, w.LastError))
			case w.Status == entity.WatcherDegraded:
				h.Problems = append(h.Problems, fmt.Sprintf("watcher %s degraded after %d failures", w.Name, w.ConsecutiveFailures))
			}
		}
	}

	if m.deps.Orchestrator != nil {
		h.Orchestrator = m.deps.Orchestrator.Stats()
		if n := h.Orchestrator.ConsecutiveOracleFails; n >= OracleFailureThreshold {
			h.Problems = append(h.Problems, fmt.Sprintf("oracle failed %d times in a row", n))
		}
	}

	if m.deps.Approvals != nil {
		pending, err := m.deps.Approvals.Pending(ctx)
		if err != nil {
			h.Problems = append(h.Problems, fmt.Sprintf("cannot list approvals: %v", err))
		} else {
			h.PendingApprovals = len(pending)
		}
	}

	if len(h.Problems) > 0 {
		h.Status = entity.SystemDegraded
	}
	return h
}

// Run checks health once, records it and rewrites the dashboard
func (m *Monitor) Run(ctx context.Context) entity.SystemHealth {
	h := m.Check(ctx)

	if m.deps.Audit != nil {
		entry := entity.NewAuditEntry(entity.AuditHealthCheck, entity.ActorSystem, summary(h))
		if h.Status != entity.SystemOperational {
			entry.Outcome = entity.OutcomeFailure
			entry.Error = strings.Join(h.Problems, "; ")
		}
		if err := m.deps.Audit.Record(ctx, entry); err != nil {
			m.logger.Warn("Failed to record health check", zap.Error(err))
		}
	}

	if m.dashboardPath != "" {
		if err := WriteDashboard(m.dashboardPath, h); err != nil {
			m.logger.Error("Failed to update dashboard", zap.String("path", m.dashboardPath), zap.Error(err))
		}
	}

	if h.Status != entity.SystemOperational {
		m.logger.Warn("System degraded", zap.Strings("problems", h.Problems))
	} else {
		m.logger.Debug("Health check passed")
	}
	return h
}

// Start runs a health check immediately and then every interval
func (m *Monitor) Start(ctx context.Context) error {
	m.loop = schedule.NewLoop(m.Name(), schedule.Every(m.interval, func(ctx context.Context) {
		m.Run(ctx)
	}), m.interval, m.logger)
	return m.loop.Start(ctx)
}

// Stop ends the monitor loop
func (m *Monitor) Stop() error {
	if m.loop == nil {
		return nil
	}
	return m.loop.Stop()
}

func (m *Monitor) Name() string {
	return "health-monitor"
}

func summary(h entity.SystemHealth) string {
	return fmt.Sprintf("%s: needs_action=%d in_progress=%d pending_approval=%d done=%d watchers=%d",
		h.Status,
		h.Partitions[entity.PartitionNeedsAction],
		h.Partitions[entity.PartitionInProgress],
		h.Partitions[entity.PartitionPendingApproval],
		h.Partitions[entity.PartitionDone],
		len(h.Watchers))
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"ts":    func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	"tsPtr": formatOptional,
	"count": func(m map[entity.Partition]int, p string) int { return m[entity.Partition(p)] },
}).Parse(`# AI Employee Dashboard

---
last_updated: {{.Timestamp.Format "2006-01-02T15:04:05Z07:00"}}
status: {{.Status}}
---

## System Status

| Component | Status | Failures | Last Success |
|-----------|--------|----------|--------------|
{{- range .Watchers}}
| {{.Name}} | {{.Status}} | {{.ConsecutiveFailures}} | {{tsPtr .LastSuccess}} |
{{- end}}
| orchestrator | {{if .Orchestrator.LastCycleAt}}running{{else}}idle{{end}} | {{.Orchestrator.ConsecutiveOracleFails}} | {{tsPtr .Orchestrator.LastCycleAt}} |

## Pending Work

- **Needs Action:** {{count .Partitions "Needs_Action"}} tasks
- **In Progress:** {{count .Partitions "In_Progress"}} tasks
- **Awaiting Approval:** {{count .Partitions "Pending_Approval"}} tasks ({{.PendingApprovals}} open requests)
- **Done:** {{count .Partitions "Done"}} tasks
- **Rejected:** {{count .Partitions "Rejected"}} tasks
{{if .Problems}}
## Problems
{{range .Problems}}
- {{.}}
{{- end}}
{{end}}
## Quick Links

- [[Company_Handbook]] - Operating rules
- [[Business_Goals]] - Business objectives
- [[Needs_Action/]] - Tasks to process
- [[Pending_Approval/]] - Awaiting your review

---
*Last updated: {{ts .Timestamp}}*
`))

func formatOptional(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}

// RenderDashboard returns the dashboard Markdown for h
func RenderDashboard(h entity.SystemHealth) (string, error) {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, h); err != nil {
		return "", fmt.Errorf("render dashboard: %w", err)
	}
	return buf.String(), nil
}

// WriteDashboard replaces the dashboard file atomically
func WriteDashboard(path string, h entity.SystemHealth) error {
	content, err := RenderDashboard(h)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dashboard-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write dashboard: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dashboard: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
