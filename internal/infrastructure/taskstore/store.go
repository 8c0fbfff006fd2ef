// Package taskstore keeps tasks as Markdown files in one directory per
// partition. Moves are os.Rename calls, so a task is never visible in two
// partitions and a lost race surfaces as errs.ErrNotFound.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
)

const recordExt = ".md"

// Store implements port.TaskStore on a local directory tree.
type Store struct {
	root   string
	logger *zap.Logger

	// putMu serialises Put so the duplicate check and the create are atomic
	// within this process. Across processes the hard link below still refuses
	// to overwrite an existing record in the same partition.
	putMu sync.Mutex

	// index caches id -> partition. It is advisory: every lookup is verified
	// against the filesystem because other actors move files too.
	mu    sync.RWMutex
	index map[string]entity.Partition
}

// New creates the partition directories under root and indexes existing records.
func New(root string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		root:   root,
		logger: logger,
		index:  make(map[string]entity.Partition),
	}

	for _, p := range entity.Partitions {
		if err := os.MkdirAll(s.dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create partition %s: %w", p, err)
		}
	}

	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}

	logger.Info("Task store opened",
		zap.String("root", root),
		zap.Int("tasks", len(s.index)))

	return s, nil
}

// Root returns the vault directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory backing a partition.
func (s *Store) Dir(p entity.Partition) string {
	return s.dir(p)
}

func (s *Store) Put(ctx context.Context, partition entity.Partition, task *entity.Task) error {
	if err := checkRecordPartition(partition); err != nil {
		return err
	}
	if err := entity.ValidateTaskID(task.ID); err != nil {
		return err
	}

	s.putMu.Lock()
	defer s.putMu.Unlock()

	if existing, err := s.Locate(ctx, task.ID); err == nil {
		return fmt.Errorf("%w: %s already in %s", errs.ErrDuplicateID, task.ID, existing)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	data, err := encodeRecord(task, partition)
	if err != nil {
		return err
	}

	tmp, err := s.writeTemp(partition, task.ID, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, s.path(partition, task.ID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", errs.ErrDuplicateID, task.ID)
		}
		return fmt.Errorf("failed to publish task %s: %w", task.ID, err)
	}

	s.remember(task.ID, partition)
	s.logger.Debug("Task stored",
		zap.String("task_id", task.ID),
		zap.String("partition", partition.String()))
	return nil
}

// Move renames the record from one partition to another. It returns
// ErrNotFound when the record is not in from, including when another mover
// got there first.
func (s *Store) Move(ctx context.Context, id string, from, to entity.Partition) error {
	if err := checkRecordPartition(from); err != nil {
		return err
	}
	if err := checkRecordPartition(to); err != nil {
		return err
	}
	if err := entity.ValidateTaskID(id); err != nil {
		return err
	}

	src := s.path(from, id)
	if _, err := os.Lstat(src); err != nil {
		return notFound(err, id, from)
	}
	if from == to {
		return nil
	}

	dst := s.path(to, id)
	if _, err := os.Lstat(dst); err == nil {
		// A concurrent mover may have just taken it to the same place.
		if _, err := os.Lstat(src); err != nil {
			return notFound(err, id, from)
		}
		return fmt.Errorf("%w: %s already in %s", errs.ErrDuplicateID, id, to)
	}

	if err := os.Rename(src, dst); err != nil {
		return notFound(err, id, from)
	}

	s.remember(id, to)
	s.logger.Debug("Task moved",
		zap.String("task_id", id),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return nil
}

// List snapshots the directory listing at call time. Records that disappear
// before they are read are skipped silently; unreadable records are yielded
// as errors so the caller can log and continue.
func (s *Store) List(ctx context.Context, partition entity.Partition) iter.Seq2[*entity.Task, error] {
	if err := checkRecordPartition(partition); err != nil {
		return func(yield func(*entity.Task, error) bool) { yield(nil, err) }
	}

	ids, listErr := s.ids(partition)

	return func(yield func(*entity.Task, error) bool) {
		if listErr != nil {
			yield(nil, listErr)
			return
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			task, err := s.Read(ctx, id, partition)
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			if !yield(task, err) {
				return
			}
		}
	}
}

func (s *Store) Read(ctx context.Context, id string, partition entity.Partition) (*entity.Task, error) {
	if err := checkRecordPartition(partition); err != nil {
		return nil, err
	}
	if err := entity.ValidateTaskID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(partition, id))
	if err != nil {
		return nil, notFound(err, id, partition)
	}

	return decodeRecord(id, data, partition)
}

func (s *Store) Delete(ctx context.Context, id string, partition entity.Partition) error {
	if err := checkRecordPartition(partition); err != nil {
		return err
	}
	if err := entity.ValidateTaskID(id); err != nil {
		return err
	}

	if err := os.Remove(s.path(partition, id)); err != nil {
		return notFound(err, id, partition)
	}

	s.mu.Lock()
	if s.index[id] == partition {
		delete(s.index, id)
	}
	s.mu.Unlock()
	return nil
}

// Update rewrites task's record in partition through a temp file and rename.
// The existence check and the rename are not atomic together: a move landing
// between them would leave a second copy behind in partition. Callers only
// update In_Progress, which the orchestrator alone moves out of.
func (s *Store) Update(ctx context.Context, partition entity.Partition, task *entity.Task) error {
	if err := checkRecordPartition(partition); err != nil {
		return err
	}
	if err := entity.ValidateTaskID(task.ID); err != nil {
		return err
	}

	target := s.path(partition, task.ID)
	if _, err := os.Stat(target); err != nil {
		return notFound(err, task.ID, partition)
	}

	data, err := encodeRecord(task, partition)
	if err != nil {
		return err
	}

	tmp, err := s.writeTemp(partition, task.ID, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) Locate(ctx context.Context, id string) (entity.Partition, error) {
	if err := entity.ValidateTaskID(id); err != nil {
		return "", err
	}

	s.mu.RLock()
	cached, ok := s.index[id]
	s.mu.RUnlock()

	if ok {
		if _, err := os.Stat(s.path(cached, id)); err == nil {
			return cached, nil
		}
	}

	for _, p := range entity.RecordPartitions() {
		if _, err := os.Stat(s.path(p, id)); err == nil {
			s.remember(id, p)
			return p, nil
		}
	}

	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()
	return "", fmt.Errorf("%w: task %s", errs.ErrNotFound, id)
}

// Count returns the number of records in partition. For Inbox it counts raw
// drops waiting for the inbox watcher.
func (s *Store) Count(ctx context.Context, partition entity.Partition) (int, error) {
	if err := checkPartition(partition); err != nil {
		return 0, err
	}
	if !partition.HoldsRecords() {
		return s.drops(partition)
	}
	ids, err := s.ids(partition)
	return len(ids), err
}

func (s *Store) drops(partition entity.Partition) (int, error) {
	entries, err := os.ReadDir(s.dir(partition))
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", partition, err)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n, nil
}

// ids returns the record ids in a partition, sorted.
func (s *Store) ids(partition entity.Partition) ([]string, error) {
	entries, err := os.ReadDir(s.dir(partition))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", partition, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if entity.ValidateTaskID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) rebuildIndex() error {
	index := make(map[string]entity.Partition)
	for _, p := range entity.RecordPartitions() {
		ids, err := s.ids(p)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if prev, dup := index[id]; dup {
				s.logger.Warn("Task present in two partitions",
					zap.String("task_id", id),
					zap.String("first", prev.String()),
					zap.String("second", p.String()))
				continue
			}
			index[id] = p
		}
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return nil
}

// writeTemp writes data to a hidden file in the partition directory so the
// final rename or link stays on one filesystem.
func (s *Store) writeTemp(partition entity.Partition, id string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir(partition), "."+id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return name, nil
}

func (s *Store) remember(id string, p entity.Partition) {
	s.mu.Lock()
	s.index[id] = p
	s.mu.Unlock()
}

func (s *Store) dir(p entity.Partition) string {
	return filepath.Join(s.root, string(p))
}

func (s *Store) path(p entity.Partition, id string) string {
	return filepath.Join(s.dir(p), id+recordExt)
}

func checkPartition(p entity.Partition) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %q", errs.ErrInvalidPartition, p)
	}
	return nil
}

// checkRecordPartition also refuses Inbox, which holds raw drops rather
// than task records.
func checkRecordPartition(p entity.Partition) error {
	if err := checkPartition(p); err != nil {
		return err
	}
	if !p.HoldsRecords() {
		return fmt.Errorf("%w: %s holds raw drops, not task records", errs.ErrInvalidPartition, p)
	}
	return nil
}

func notFound(err error, id string, p entity.Partition) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: task %s in %s", errs.ErrNotFound, id, p)
	}
	return fmt.Errorf("task %s in %s: %w", id, p, err)
}

var _ port.TaskStore = (*Store)(nil)
