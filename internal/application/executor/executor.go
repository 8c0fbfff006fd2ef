// Package executor dispatches approved or auto-executable actions to the
// connector registered for their type.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
)

// DefaultTimeout bounds a single connector call.
const DefaultTimeout = 60 * time.Second

type registration struct {
	prefix    string
	name      string
	connector port.Connector
}

// Executor routes actions to connectors by action-type prefix. The longest
// registered prefix wins. It keeps no per-action state.
type Executor struct {
	mu      sync.RWMutex
	entries []registration
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an executor; a non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout, logger: logger}
}

// Register binds a connector to every action type starting with prefix.
// Registering the same prefix twice replaces the earlier connector.
func (e *Executor) Register(prefix, name string, c port.Connector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.entries {
		if e.entries[i].prefix == prefix {
			e.entries[i] = registration{prefix: prefix, name: name, connector: c}
			return
		}
	}
	e.entries = append(e.entries, registration{prefix: prefix, name: name, connector: c})
	sort.SliceStable(e.entries, func(i, j int) bool {
		return len(e.entries[i].prefix) > len(e.entries[j].prefix)
	})
}

// Prefixes lists registered prefixes, longest first.
func (e *Executor) Prefixes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.entries))
	for _, r := range e.entries {
		out = append(out, r.prefix)
	}
	return out
}

func (e *Executor) lookup(t entity.ActionType) (registration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.entries {
		if strings.HasPrefix(string(t), r.prefix) {
			return r, true
		}
	}
	return registration{}, false
}

// Execute runs the action and always returns a Result. Connector errors,
// timeouts and panics become failed results wrapping errs.ErrExecution.
func (e *Executor) Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) entity.ExecutionResult {
	if action == nil {
		return failed(fmt.Errorf("%w: no action", errs.ErrExecution))
	}

	reg, ok := e.lookup(action.Type)
	if !ok {
		err := fmt.Errorf("%w: no connector for %s", errs.ErrExecution, action.Type)
		e.logger.Warn("No connector registered", zap.String("action_type", string(action.Type)))
		return failed(err)
	}

	start := time.Now()
	result, err := e.call(ctx, reg, action, task)
	duration := time.Since(start)

	if err != nil {
		e.logger.Error("Connector failed",
			zap.String("connector", reg.name),
			zap.String("action_id", action.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return failed(fmt.Errorf("%w: %s: %v", errs.ErrExecution, reg.name, err))
	}
	if !result.Success && result.Error == "" {
		result.Error = "connector reported failure"
	}

	e.logger.Info("Action executed",
		zap.String("connector", reg.name),
		zap.String("action_id", action.ID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", duration))
	return result
}

type callResult struct {
	result entity.ExecutionResult
	err    error
}

// call runs the connector on its own goroutine so a connector that ignores
// its context still cannot hold the caller past the timeout.
func (e *Executor) call(ctx context.Context, reg registration, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("connector panicked: %v", r)}
			}
		}()
		res, err := reg.connector.Execute(cctx, action, task)
		done <- callResult{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return entity.ExecutionResult{}, fmt.Errorf("timed out after %s", e.timeout)
		}
		return entity.ExecutionResult{}, cctx.Err()
	}
}

func failed(err error) entity.ExecutionResult {
	return entity.ExecutionResult{Success: false, Error: err.Error()}
}
