package watcher

import (
	"sync"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// Registry collects runners so their health can be reported together.
type Registry struct {
	mu      sync.RWMutex
	runners []*Runner
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a runner
func (r *Registry) Add(runner *Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners = append(r.runners, runner)
}

// Runners returns the registered runners
func (r *Registry) Runners() []*Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Runner(nil), r.runners...)
}

// Snapshot returns the health of every runner
func (r *Registry) Snapshot() []entity.WatcherHealth {
	runners := r.Runners()
	out := make([]entity.WatcherHealth, 0, len(runners))
	for _, runner := range runners {
		out = append(out, runner.Health())
	}
	return out
}
