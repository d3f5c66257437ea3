package orchestrator

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"mediagen/internal/infra"
)

// ErrRegistryClosed is returned by a second Shutdown.
var ErrRegistryClosed = errors.New("orchestrator: registry closed")

// Registry supervises detached background tasks keyed by job id. Tasks
// outlive the request that started them but are cancelled and joined on
// Shutdown.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger infra.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	active map[string]struct{}
	closed bool
}

// NewRegistry returns a registry whose tasks inherit parent's values but are
// cancelled only by Shutdown.
func NewRegistry(parent context.Context, logger infra.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Registry{
		ctx:    ctx,
		cancel: cancel,
		logger: infra.Component(logger, "registry"),
		active: make(map[string]struct{}),
	}
}

// Go starts fn under key. It reports false when a task with the same key is
// still running or the registry is shut down. A panic in fn is recovered
// and logged.
func (r *Registry) Go(key string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, running := r.active[key]; running {
		r.mu.Unlock()
		return false
	}
	r.active[key] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, key)
			r.mu.Unlock()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("task", key).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("registry: task panicked")
			}
		}()
		fn(r.ctx)
	}()
	return true
}

// Active reports the number of running tasks.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Running reports whether a task for key is in flight.
func (r *Registry) Running(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

// Wait blocks until all running tasks return.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Shutdown cancels every task and waits for them until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
