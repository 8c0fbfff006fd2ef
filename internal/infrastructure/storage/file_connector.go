package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// File operations accepted in details.operation.
const (
	FileOpCreate = "create"
	FileOpUpdate = "update"
	FileOpAppend = "append"
	FileOpMove   = "move"
	FileOpDelete = "delete"
)

// FileConnector executes file_ actions inside a sandbox
type FileConnector struct {
	sandbox *Sandbox
	logger  *zap.Logger
}

// NewFileConnector creates a connector confined to sandbox
func NewFileConnector(sandbox *Sandbox, logger *zap.Logger) *FileConnector {
	return &FileConnector{sandbox: sandbox, logger: logger}
}

// Execute reads details.operation (create, update, append, move, delete),
// details.path, details.content and details.to. A file_delete action always
// deletes.
func (c *FileConnector) Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error) {
	op := action.DetailString("operation")
	if action.Type == entity.ActionFileDelete {
		op = FileOpDelete
	}
	path := action.DetailString("path")
	content := []byte(action.DetailString("content"))

	var err error
	switch op {
	case FileOpCreate:
		if c.sandbox.Exists(ctx, path) {
			err = fmt.Errorf("file already exists: %s", path)
		} else {
			err = c.sandbox.Write(ctx, path, content)
		}
	case FileOpUpdate:
		err = c.sandbox.Write(ctx, path, content)
	case FileOpAppend:
		err = c.sandbox.Append(ctx, path, content)
	case FileOpMove:
		to := action.DetailString("to")
		if !c.sandbox.Exists(ctx, path) {
			err = fmt.Errorf("source does not exist: %s", path)
		} else {
			err = c.sandbox.Move(ctx, path, to)
		}
	case FileOpDelete:
		err = c.sandbox.Delete(ctx, path)
	default:
		err = fmt.Errorf("unsupported file operation %q", op)
	}
	if err != nil {
		return entity.ExecutionResult{}, err
	}

	c.logger.Info("File operation done",
		zap.String("action_id", action.ID),
		zap.String("operation", op),
		zap.String("path", path))
	return entity.ExecutionResult{Success: true, Detail: fmt.Sprintf("%s %s", op, path)}, nil
}

var _ port.Connector = (*FileConnector)(nil)
