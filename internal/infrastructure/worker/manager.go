package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

type registration struct {
	worker   Worker
	critical bool
}

// WorkerManager starts and stops the engine's long-running components as a
// group. Workers share one context that StopAll cancels.
type WorkerManager struct {
	logger *zap.Logger

	mu        sync.RWMutex
	workers   []registration
	started   []Worker
	isRunning bool
	cancel    context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker whose start failure is logged and tolerated.
func (m *WorkerManager) Register(worker Worker) {
	m.register(registration{worker: worker})
}

// RegisterCritical adds a worker the engine cannot run without. If it fails
// to start, StartAll rolls back and returns the error.
func (m *WorkerManager) RegisterCritical(worker Worker) {
	m.register(registration{worker: worker, critical: true})
}

func (m *WorkerManager) register(r registration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, r)
	m.logger.Info("Worker registered",
		zap.String("worker_name", r.worker.Name()),
		zap.Bool("critical", r.critical),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts workers in registration order.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.started = m.started[:0]

	for _, r := range m.workers {
		err := r.worker.Start(runCtx)
		if err == nil {
			m.started = append(m.started, r.worker)
			m.logger.Info("Worker started", zap.String("worker_name", r.worker.Name()))
			continue
		}

		m.logger.Error("Failed to start worker",
			zap.String("worker_name", r.worker.Name()),
			zap.Bool("critical", r.critical),
			zap.Error(err))
		if r.critical {
			cancel()
			stopErr := m.stopStarted(m.started)
			m.started = m.started[:0]
			return errors.Join(fmt.Errorf("%s: %w", r.worker.Name(), err), stopErr)
		}
	}

	m.cancel = cancel
	m.isRunning = true
	return nil
}

// StopAll cancels the shared context and stops started workers in reverse order
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	started := append([]Worker(nil), m.started...)
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	return m.stopStarted(started)
}

func (m *WorkerManager) stopStarted(started []Worker) error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		w := started[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", w.Name()))
	}
	return errors.Join(errs...)
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
