// internal/monitor/registry.go
package monitor

import (
	"context"
	"sync"
)

// Registry tracks running position monitors. The trading loop consults it to
// keep the engine single-position: no new buys while any monitor is active.
type Registry struct {
	mu      sync.Mutex
	running map[int64]*Monitor
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{running: map[int64]*Monitor{}}
}

// Launch starts m in its own goroutine, unless a monitor for the same
// position is already running.
func (r *Registry) Launch(ctx context.Context, m *Monitor) {
	r.mu.Lock()
	if _, ok := r.running[m.pos.ID]; ok {
		r.mu.Unlock()
		return
	}
	r.running[m.pos.ID] = m
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, m.pos.ID)
			r.mu.Unlock()
		}()
		m.Run(ctx)
	}()
}

// Active returns the number of monitors currently running.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Wait blocks until every launched monitor has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}
