// Package upload deduplicates artifact uploads so each job is copied to
// durable storage at most once per process.
package upload

import (
	"context"
	"errors"
	"sync"
)

var errProducerPanicked = errors.New("upload: producer panicked")

type entry[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Memoizer runs a producer at most once per key. Concurrent callers for the
// same key share the in-flight result; successful results are kept for the
// life of the process and failed ones are forgotten so a later call retries.
type Memoizer[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

// NewMemoizer returns an empty Memoizer.
func NewMemoizer[T any]() *Memoizer[T] {
	return &Memoizer[T]{entries: make(map[string]*entry[T])}
}

// GetOrCreate returns the stored result for key, waiting on an in-flight
// producer if there is one, or runs produce. The entry is registered before
// produce starts so racing callers never start a second producer.
func (m *Memoizer[T]) GetOrCreate(ctx context.Context, key string, produce func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return wait(ctx, e)
	}
	e := &entry[T]{done: make(chan struct{})}
	m.entries[key] = e
	m.mu.Unlock()

	completed := false
	defer func() {
		if !completed {
			e.err = errProducerPanicked
		}
		if e.err != nil {
			m.mu.Lock()
			if m.entries[key] == e {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		}
		close(e.done)
	}()
	e.value, e.err = produce(ctx)
	completed = true
	return e.value, e.err
}

// Forget drops key.
func (m *Memoizer[T]) Forget(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len reports the number of tracked keys.
func (m *Memoizer[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func wait[T any](ctx context.Context, e *entry[T]) (T, error) {
	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
