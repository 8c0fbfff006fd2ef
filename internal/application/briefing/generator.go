// Package briefing produces the periodic owner briefing workbook: what got
// done, what waits for a decision and what the audit trail recorded.
package briefing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// DefaultPeriod is the window a briefing covers
const DefaultPeriod = 7 * 24 * time.Hour

// Sheet names
const (
	SheetSummary   = "Summary"
	SheetCompleted = "Completed"
	SheetPending   = "Pending Approvals"
	SheetActivity  = "Activity"
)

// TaskRow is one task line in the workbook
type TaskRow struct {
	ID       string
	Title    string
	Source   string
	Priority entity.Priority
	Created  time.Time
	Action   string
	AgeDays  float64
}

// Report is the data behind a briefing
type Report struct {
	From, To    time.Time
	Completed   []TaskRow
	Pending     []TaskRow
	EventCounts map[entity.AuditEventType]int
	Approvals   int
	Rejections  int
	Failures    int
}

// Generator builds briefings from the task store and the audit trail
type Generator struct {
	store  port.TaskStore
	audit  port.AuditReader
	outDir string
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator creates a generator writing workbooks into outDir
func NewGenerator(store port.TaskStore, audit port.AuditReader, outDir string, logger *zap.Logger) *Generator {
	return &Generator{
		store:  store,
		audit:  audit,
		outDir: outDir,
		logger: logger,
		now:    time.Now,
	}
}

// Collect gathers the report for the period ending now
func (g *Generator) Collect(ctx context.Context, period time.Duration) (*Report, error) {
	to := g.now().UTC()
	from := to.Add(-period)
	report := &Report{From: from, To: to, EventCounts: make(map[entity.AuditEventType]int)}

	entries, err := g.audit.Timeline(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("read audit trail: %w", err)
	}

	executed := make(map[string]bool)
	for _, e := range entries {
		report.EventCounts[e.EventType]++
		if e.Outcome == entity.OutcomeFailure {
			report.Failures++
		}
		switch e.EventType {
		case entity.AuditActionExecuted:
			if e.Outcome == entity.OutcomeSuccess && e.TaskID != "" {
				executed[e.TaskID] = true
			}
		case entity.AuditHumanDecision:
			if e.Outcome != entity.OutcomeSuccess {
				continue
			}
			if strings.HasPrefix(e.Detail, "approved") {
				report.Approvals++
			} else if strings.HasPrefix(e.Detail, "rejected") {
				report.Rejections++
			}
		}
	}

	for task, err := range g.store.List(ctx, entity.PartitionDone) {
		if err != nil {
			g.logger.Warn("Skipping unreadable task", zap.Error(err))
			continue
		}
		if !executed[task.ID] && task.CreatedAt.Before(from) {
			continue
		}
		report.Completed = append(report.Completed, row(task, to))
	}

	for task, err := range g.store.List(ctx, entity.PartitionPendingApproval) {
		if err != nil {
			g.logger.Warn("Skipping unreadable task", zap.Error(err))
			continue
		}
		report.Pending = append(report.Pending, row(task, to))
	}

	sort.Slice(report.Completed, func(i, j int) bool {
		return report.Completed[i].Created.Before(report.Completed[j].Created)
	})
	sort.Slice(report.Pending, func(i, j int) bool {
		return report.Pending[i].AgeDays > report.Pending[j].AgeDays
	})
	return report, nil
}

func row(task *entity.Task, now time.Time) TaskRow {
	r := TaskRow{
		ID:       task.ID,
		Title:    task.Title,
		Source:   task.Source,
		Priority: task.Priority,
		Created:  task.CreatedAt,
		AgeDays:  now.Sub(task.CreatedAt).Round(time.Hour).Hours() / 24,
	}
	if task.ProposedAction != nil {
		r.Action = string(task.ProposedAction.Type)
	}
	return r
}

// Generate collects a report and writes it as <date>_Briefing.xlsx
func (g *Generator) Generate(ctx context.Context, period time.Duration) (string, *Report, error) {
	report, err := g.Collect(ctx, period)
	if err != nil {
		return "", nil, err
	}

	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create briefings directory: %w", err)
	}
	outputPath := filepath.Join(g.outDir, report.To.Format("2006-01-02")+"_Briefing.xlsx")

	if err := WriteWorkbook(report, outputPath); err != nil {
		return "", nil, err
	}

	g.logger.Info("Briefing generated",
		zap.String("output_path", outputPath),
		zap.Int("completed", len(report.Completed)),
		zap.Int("pending", len(report.Pending)))
	return outputPath, report, nil
}

// WriteWorkbook renders report into an xlsx file
func WriteWorkbook(report *Report, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	summary := [][]any{
		{"Briefing period", fmt.Sprintf("%s to %s", report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))},
		{"Tasks completed", len(report.Completed)},
		{"Awaiting approval", len(report.Pending)},
		{"Human approvals", report.Approvals},
		{"Human rejections", report.Rejections},
		{"Failures recorded", report.Failures},
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), header); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}

	taskHeader := []any{"Task ID", "Title", "Source", "Priority", "Created", "Action", "Age (days)"}
	for _, sheet := range []struct {
		name string
		rows []TaskRow
	}{
		{SheetCompleted, report.Completed},
		{SheetPending, report.Pending},
	} {
		rows := [][]any{taskHeader}
		for _, r := range sheet.rows {
			rows = append(rows, []any{r.ID, r.Title, r.Source, string(r.Priority), r.Created.Format("2006-01-02 15:04"), r.Action, r.AgeDays})
		}
		if err := newSheet(f, sheet.name, rows, header); err != nil {
			return err
		}
	}

	types := make([]string, 0, len(report.EventCounts))
	for t := range report.EventCounts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	activity := [][]any{{"Event", "Count"}}
	for _, t := range types {
		activity = append(activity, []any{t, report.EventCounts[entity.AuditEventType(t)]})
	}
	if err := newSheet(f, SheetActivity, activity, header); err != nil {
		return err
	}

	if err := f.SetColWidth(SheetSummary, "A", "B", 24); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

func newSheet(f *excelize.File, name string, rows [][]any, headerStyle int) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	if err := writeRows(f, name, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(name, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", name, err)
	}
	if err := f.SetColWidth(name, "A", "B", 32); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := values
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
