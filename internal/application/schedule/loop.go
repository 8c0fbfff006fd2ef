// Package schedule runs periodic work on a timer-driven goroutine.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Func runs one iteration and returns how long to wait before the next one.
// A negative delay ends the loop.
type Func func(ctx context.Context) time.Duration

// Stop is returned by a Func to end the loop.
const Stop time.Duration = -1

// Every adapts a fixed-interval job to a Func.
func Every(interval time.Duration, fn func(ctx context.Context)) Func {
	return func(ctx context.Context) time.Duration {
		fn(ctx)
		return interval
	}
}

// Loop runs a Func until it returns Stop or the loop is stopped. It satisfies
// the worker interface (Start, Stop, Name).
type Loop struct {
	name          string
	fn            Func
	fallbackDelay time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLoop creates a loop. After a panic in fn the loop waits fallbackDelay
// and tries again.
func NewLoop(name string, fn Func, fallbackDelay time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		name:          name,
		fn:            fn,
		fallbackDelay: fallbackDelay,
		logger:        logger,
	}
}

// Start runs the first iteration immediately on a new goroutine
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isRunning {
		return fmt.Errorf("%s is already running", l.name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.isRunning = true

	go l.run(loopCtx, l.done)
	return nil
}

// Stop cancels the loop and waits for the current iteration to return
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.isRunning = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Done is closed when the loop goroutine exits
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Name returns the worker name for identification
func (l *Loop) Name() string {
	return l.name
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := l.iterate(ctx)
		if delay < 0 {
			l.logger.Info("Loop finished", zap.String("loop", l.name))
			return
		}
		timer.Reset(delay)
	}
}

func (l *Loop) iterate(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Loop iteration panicked",
				zap.String("loop", l.name),
				zap.Any("panic", r))
			delay = l.fallbackDelay
		}
	}()
	return l.fn(ctx)
}
