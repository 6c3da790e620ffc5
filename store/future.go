package store

import (
	"context"
	"sync"
)

// Future is the completion handle returned alongside every mutating store
// operation. It resolves when the derived search index converges for that
// mutation.
//
// Normal request paths fire-and-forget: abandoning a Future never rolls
// back the already-committed primary-store write; the system tolerates a
// bounded window where primary and index disagree. Callers that need
// read-after-write on the index (tests, admin flows) call Wait. An index
// failure is reported only here — the primary write already succeeded and
// remains authoritative.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolvedFuture returns an already-completed future, used when there is no
// index work to wait for.
func resolvedFuture(err error) *Future {
	f := newFuture()
	f.resolve(err)
	return f
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the index write has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the index write's outcome. Only valid after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Wait blocks until the index write completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
