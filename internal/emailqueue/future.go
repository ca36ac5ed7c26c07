package emailqueue

import (
	"context"
	"sync"
)

// Future carries the outcome of a single queued task.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Done is closed once the task has resolved or been rejected.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task settles or ctx is done. Giving up on the wait
// does not remove the task from the queue.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// settle records the first outcome; later calls are ignored.
func (f *Future[T]) settle(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}
