package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrOutsideSandbox is returned for paths that resolve outside the base directory.
var ErrOutsideSandbox = errors.New("path escapes sandbox")

// Sandbox performs file operations confined to one base directory. The file
// connector uses it so an oracle-proposed path can never reach outside the
// workspace.
type Sandbox struct {
	baseDir string
	logger  *zap.Logger
}

// NewSandbox creates a sandbox rooted at baseDir
func NewSandbox(baseDir string, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		baseDir: baseDir,
		logger:  logger,
	}
}

// BaseDir returns the sandbox root
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// Write creates or replaces the file at the relative path
func (s *Sandbox) Write(ctx context.Context, rel string, content []byte) error {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		s.logger.Error("Failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("File written",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))
	return nil
}

// Append adds content to the end of the file, creating it when missing
func (s *Sandbox) Append(ctx context.Context, rel string, content []byte) error {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to file: %w", err)
	}
	return f.Close()
}

// Read returns the content of the file at the relative path
func (s *Sandbox) Read(ctx context.Context, rel string) ([]byte, error) {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Exists reports whether a file exists at the relative path
func (s *Sandbox) Exists(ctx context.Context, rel string) bool {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// Move renames a file inside the sandbox. The destination must not exist.
func (s *Sandbox) Move(ctx context.Context, fromRel, toRel string) error {
	from, err := s.Resolve(fromRel)
	if err != nil {
		return err
	}
	to, err := s.Resolve(toRel)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("destination already exists: %s", toRel)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}

	s.logger.Debug("File moved",
		zap.String("from", from),
		zap.String("to", to))
	return nil
}

// Delete removes the file at the relative path. Deleting a missing file succeeds.
func (s *Sandbox) Delete(ctx context.Context, rel string) error {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("Failed to delete file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.logger.Debug("File deleted", zap.String("path", fullPath))
	return nil
}

// Resolve converts a relative path to an absolute one inside the sandbox.
// Absolute inputs and paths climbing out of the base are refused.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideSandbox)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is absolute", ErrOutsideSandbox, rel)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, rel))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, rel)
	}
	return absPath, nil
}
