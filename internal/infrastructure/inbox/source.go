// Package inbox watches the vault's Inbox folder for files dropped by a
// human and turns each new or changed file into a task.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/watcher"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// SourceName is the task source for Inbox drops
const SourceName = "filesystem"

const maxTitleLen = 100

var titlePrefixes = []string{"Task:", "TODO:", "Note:"}

// Option configures a Source
type Option func(*Source)

// WithRescanInterval forces a directory scan at least this often even when
// no filesystem notification arrived.
func WithRescanInterval(d time.Duration) Option {
	return func(s *Source) { s.rescanEvery = d }
}

// WithSettleTime skips files modified more recently than d so half-written
// files are picked up on a later poll.
func WithSettleTime(d time.Duration) Option {
	return func(s *Source) { s.settle = d }
}

// WithTextExtractor replaces the PDF text extractor
func WithTextExtractor(fn func(path string) (string, error)) Option {
	return func(s *Source) { s.pdfText = fn }
}

// Source is a watcher.Source over one directory. fsnotify marks the
// directory dirty; the actual events come from a scan, so a missed
// notification only delays a file until the next rescan.
type Source struct {
	dir         string
	rescanEvery time.Duration
	settle      time.Duration
	pdfText     func(path string) (string, error)
	logger      *zap.Logger
	now         func() time.Time

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu         sync.Mutex
	dirty      bool
	lastScan   time.Time
	watchError error
}

// NewSource creates a source for dir
func NewSource(dir string, logger *zap.Logger, opts ...Option) *Source {
	s := &Source{
		dir:         dir,
		rescanEvery: 5 * time.Minute,
		settle:      2 * time.Second,
		pdfText:     PDFText,
		logger:      logger,
		now:         time.Now,
		dirty:       true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string {
	return SourceName
}

// Initialize starts the filesystem notifier
func (s *Source) Initialize(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("inbox not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox %s is not a directory", s.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	s.fsw = fsw
	s.done = make(chan struct{})
	go s.watchLoop()

	s.logger.Info("Inbox watcher monitoring", zap.String("dir", s.dir))
	return nil
}

func (s *Source) watchLoop() {
	defer close(s.done)
	for {
		select {
		case evt, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				s.mu.Lock()
				s.dirty = true
				s.mu.Unlock()
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Inbox watcher error", zap.Error(err))
			s.mu.Lock()
			s.watchError = err
			s.dirty = true
			s.mu.Unlock()
		}
	}
}

// CheckForEvents scans the directory when it changed or the rescan interval
// elapsed. Events are ordered by modification time, then name.
func (s *Source) CheckForEvents(ctx context.Context) ([]watcher.RawEvent, error) {
	now := s.now()

	s.mu.Lock()
	watchErr := s.watchError
	s.watchError = nil
	due := s.dirty || now.Sub(s.lastScan) >= s.rescanEvery
	if due {
		s.dirty = false
		s.lastScan = now
	}
	s.mu.Unlock()

	if watchErr != nil {
		return nil, fmt.Errorf("file watcher: %w", watchErr)
	}
	if !due {
		return nil, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.markDirty()
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	type candidate struct {
		name string
		info os.FileInfo
	}
	var files []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !supported(name) {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if now.Sub(info.ModTime()) < s.settle {
			s.markDirty()
			continue
		}
		files = append(files, candidate{name, info})
	}

	sort.Slice(files, func(i, j int) bool {
		mi, mj := files[i].info.ModTime(), files[j].info.ModTime()
		if !mi.Equal(mj) {
			return mi.Before(mj)
		}
		return files[i].name < files[j].name
	})

	events := make([]watcher.RawEvent, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events = append(events, s.readEvent(f.name, f.info))
	}
	return events, nil
}

// readEvent loads a file's text. An unreadable file still yields an event,
// carrying the error so Translate can reject it once.
func (s *Source) readEvent(name string, info os.FileInfo) watcher.RawEvent {
	path := filepath.Join(s.dir, name)
	evt := watcher.RawEvent{
		ID:         name + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10) + "|" + strconv.FormatInt(info.Size(), 10),
		Kind:       strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		ObservedAt: info.ModTime().UTC(),
		Data:       map[string]any{"path": path, "filename": name, "size": info.Size()},
	}

	var text string
	var err error
	if evt.Kind == "pdf" {
		text, err = s.pdfText(path)
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	}
	if err != nil {
		evt.Data["error"] = err.Error()
		return evt
	}

	evt.Body = text
	evt.Subject = ExtractTitle(text, name)
	return evt
}

func (s *Source) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *Source) Translate(evt watcher.RawEvent) (*entity.Task, error) {
	if msg, ok := evt.Data["error"].(string); ok {
		return nil, fmt.Errorf("read %v: %s", evt.Data["filename"], msg)
	}
	if strings.TrimSpace(evt.Body) == "" {
		return nil, nil
	}
	return &entity.Task{
		Source:  SourceName,
		Title:   evt.Subject,
		Content: evt.Body,
		Payload: map[string]any{
			"path":     evt.Data["path"],
			"filename": evt.Data["filename"],
		},
	}, nil
}

func (s *Source) Prioritize(evt watcher.RawEvent) entity.Priority {
	return watcher.KeywordPriority(evt.Subject, evt.Body)
}

// Cleanup stops the notifier and waits for its goroutine
func (s *Source) Cleanup() error {
	if s.fsw == nil {
		return nil
	}
	err := s.fsw.Close()
	<-s.done
	s.fsw = nil
	return err
}

// ExtractTitle returns the first Markdown heading, else the first non-empty
// line, else the file name without extension. Common prefixes such as
// "Task:" are stripped and the result is capped at 100 characters.
func ExtractTitle(text, filename string) string {
	var firstLine string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return cleanTitle(strings.TrimLeft(line, "# "), filename)
		}
		if firstLine == "" {
			firstLine = line
		}
	}
	return cleanTitle(firstLine, filename)
}

func cleanTitle(title, filename string) string {
	title = strings.TrimSpace(title)
	for _, prefix := range titlePrefixes {
		if len(title) >= len(prefix) && strings.EqualFold(title[:len(prefix)], prefix) {
			title = strings.TrimSpace(title[len(prefix):])
			break
		}
	}
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".pdf":
		return true
	}
	return false
}

var _ watcher.Source = (*Source)(nil)
