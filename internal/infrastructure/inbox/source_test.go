package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

func writeFile(t *testing.T, dir, name, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name, text, file, want string
	}{
		{"heading wins", "intro line\n\n## Task: Pay the AWS invoice\nbody", "a.md", "Pay the AWS invoice"},
		{"first line", "\n  TODO: call the bank  \nmore", "a.md", "call the bank"},
		{"empty falls back to file name", "  \n", "quarterly-report.txt", "quarterly-report"},
		{"bare heading falls back to file name", "#\nbody", "x.md", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle(tt.text, tt.file))
		})
	}

	long := "# "
	for i := 0; i < 120; i++ {
		long += "a"
	}
	assert.Len(t, ExtractTitle(long, "f.md"), maxTitleLen)
}

func TestSource_ScanOrderAndTranslate(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	writeFile(t, dir, "b.md", "# Urgent: server down\nFix it", base)
	writeFile(t, dir, "a.txt", "question about onboarding", base.Add(time.Minute))
	writeFile(t, dir, "image.png", "binary", base)
	writeFile(t, dir, ".hidden.md", "skip", base)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	src := NewSource(dir, zap.NewNop(), WithSettleTime(0))
	require.NoError(t, src.Initialize(context.Background()))
	defer src.Cleanup()

	events, err := src.CheckForEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b.md", events[0].Data["filename"])
	assert.Equal(t, "a.txt", events[1].Data["filename"])
	assert.Contains(t, events[0].ID, "b.md|")

	task, err := src.Translate(events[0])
	require.NoError(t, err)
	assert.Equal(t, SourceName, task.Source)
	assert.Equal(t, "Urgent: server down", task.Title)
	assert.Equal(t, entity.PriorityP0, src.Prioritize(events[0]))
	assert.Equal(t, entity.PriorityP2, src.Prioritize(events[1]))
}

func TestSource_EditChangesEventID(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFile(t, dir, "note.md", "first", base)

	src := NewSource(dir, zap.NewNop(), WithSettleTime(0), WithRescanInterval(0))
	first, err := src.CheckForEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	writeFile(t, dir, "note.md", "first, edited", base.Add(time.Minute))
	second, err := src.CheckForEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestSource_SkipsUntilDirtyOrRescan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "note.md", "hello", time.Now().Add(-time.Hour))

	now := time.Now()
	src := NewSource(dir, zap.NewNop(), WithSettleTime(0), WithRescanInterval(time.Minute))
	src.now = func() time.Time { return now }

	events, err := src.CheckForEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = src.CheckForEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	now = now.Add(2 * time.Minute)
	events, err = src.CheckForEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSource_SettleTimeDefersFreshFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	writeFile(t, dir, "fresh.md", "still writing", now.Add(-time.Second))

	src := NewSource(dir, zap.NewNop(), WithSettleTime(5*time.Second), WithRescanInterval(time.Hour))
	src.now = func() time.Time { return now }

	events, err := src.CheckForEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	now = now.Add(10 * time.Second)
	events, err = src.CheckForEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSource_PDFAndUnreadable(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-time.Hour)
	writeFile(t, dir, "invoice.pdf", "%PDF-fake", old)
	writeFile(t, dir, "scan.pdf", "%PDF-fake", old.Add(time.Second))

	extract := func(path string) (string, error) {
		if filepath.Base(path) == "scan.pdf" {
			return "", errors.New("PDF has no text layer")
		}
		return "Invoice 42\nAmount due: 100", nil
	}
	src := NewSource(dir, zap.NewNop(), WithSettleTime(0), WithTextExtractor(extract))

	events, err := src.CheckForEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	task, err := src.Translate(events[0])
	require.NoError(t, err)
	assert.Equal(t, "Invoice 42", task.Title)
	assert.Equal(t, entity.PriorityP1, src.Prioritize(events[0]))

	_, err = src.Translate(events[1])
	assert.ErrorContains(t, err, "no text layer")
}

func TestSource_InitializeMissingDir(t *testing.T) {
	src := NewSource(filepath.Join(t.TempDir(), "missing"), zap.NewNop())
	assert.Error(t, src.Initialize(context.Background()))
	assert.NoError(t, src.Cleanup())
}
