package emailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"go.uber.org/zap"
)

// DefaultMinInterval keeps outbound calls under the email provider's
// per-second limit.
const DefaultMinInterval = 500 * time.Millisecond

var (
	ErrQueueClosed  = errors.New("email queue is closed")
	ErrNilTask      = errors.New("task function is required")
	ErrTaskPanicked = errors.New("email queue task panicked")
)

type task struct {
	// ctx belongs to the submitter; once it is done the task is skipped.
	ctx     context.Context
	run     func(ctx context.Context) error
	abandon func(err error)
}

// Queue runs submitted tasks one at a time in submission order, starting
// each task no sooner than MinInterval after the previous one started.
//
// A single drain goroutine exists while work is pending; it exits when the
// queue empties and Add starts a new one on the next submission.
type Queue struct {
	mu           sync.Mutex
	pending      []*task
	draining     bool
	closed       bool
	idle         chan struct{}
	lastDispatch time.Time

	minInterval time.Duration
	taskTimeout time.Duration
	now         func() time.Time
	sleep       func(d time.Duration)
	logger      *zap.Logger
	metrics     *observability.Metrics
}

type Option func(*Queue)

func WithMinInterval(d time.Duration) Option {
	return func(q *Queue) { q.minInterval = d }
}

// WithTaskTimeout bounds each task. On expiry the task's future is rejected
// with context.DeadlineExceeded and the queue moves on.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) { q.taskTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = metrics }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		minInterval: DefaultMinInterval,
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.minInterval < 0 {
		q.minInterval = 0
	}
	if q.taskTimeout < 0 {
		q.taskTimeout = 0
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	return q
}

// Add submits fn and returns a future for its result. fn never runs on the
// caller's goroutine. Add itself never fails: problems such as a closed
// queue are reported through the returned future.
func Add[T any](q *Queue, fn func(ctx context.Context) (T, error)) *Future[T] {
	return AddContext(context.Background(), q, fn)
}

// AddContext is Add bound to the submitter's ctx. If ctx ends before the task
// is dispatched, the task never runs and its future rejects with ctx.Err().
// A task already running sees the cancellation through its own ctx.
func AddContext[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) *Future[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	future := newFuture[T]()

	var zero T
	if q == nil {
		future.settle(zero, fmt.Errorf("email queue is not initialized"))
		return future
	}
	if fn == nil {
		future.settle(zero, ErrNilTask)
		return future
	}

	t := &task{
		ctx: ctx,
		run: func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
					future.settle(zero, err)
				}
			}()

			value, err := fn(ctx)
			future.settle(value, err)
			return err
		},
		abandon: func(err error) {
			future.settle(zero, err)
		},
	}

	if err := q.enqueue(t); err != nil {
		future.settle(zero, err)
	}
	return future
}

// Len returns the number of tasks waiting to be dispatched.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// MinInterval returns the configured spacing between dispatch starts.
func (q *Queue) MinInterval() time.Duration {
	return q.minInterval
}

// Close stops accepting new tasks. Tasks already queued are still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Shutdown closes the queue and waits for pending tasks to finish or ctx
// to end, whichever comes first.
func (q *Queue) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	q.closed = true
	if !q.draining {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email queue shutdown: %w", ctx.Err())
	}
}

func (q *Queue) enqueue(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.pending = append(q.pending, t)
	q.metrics.SetEmailQueueDepth(len(q.pending))

	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	return nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		q.dropAbandonedLocked()
		if len(q.pending) == 0 {
			q.draining = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		wait := q.minInterval - q.now().Sub(q.lastDispatch)
		q.mu.Unlock()

		if wait > 0 {
			q.sleep(wait)
		}

		// Only this goroutine pops, so the head is still there.
		q.mu.Lock()
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		depth := len(q.pending)
		if err := next.ctx.Err(); err != nil {
			// Cancelled during the wait; it never counts as a dispatch.
			q.mu.Unlock()
			q.metrics.SetEmailQueueDepth(depth)
			q.skip(next, err)
			continue
		}
		q.lastDispatch = q.now()
		q.mu.Unlock()

		q.metrics.SetEmailQueueDepth(depth)
		q.execute(next)
	}
}

// dropAbandonedLocked removes tasks whose submitter has already given up.
func (q *Queue) dropAbandonedLocked() {
	kept := q.pending[:0]
	for _, t := range q.pending {
		if err := t.ctx.Err(); err != nil {
			q.skip(t, err)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	if len(kept) != len(q.pending) {
		q.pending = kept
		q.metrics.SetEmailQueueDepth(len(kept))
	}
}

func (q *Queue) skip(t *task, err error) {
	t.abandon(err)
	q.metrics.IncEmailTask("abandoned")
	q.logger.Debug("skipping email queue task, submitter gave up", zap.Error(err))
}

func (q *Queue) execute(t *task) {
	start := q.now()

	var err error
	if q.taskTimeout <= 0 {
		err = t.run(t.ctx)
	} else {
		err = q.executeWithTimeout(t)
	}

	q.metrics.ObserveEmailTaskDuration(q.now().Sub(start))
	if err != nil {
		q.metrics.IncEmailTask("failed")
		q.logger.Warn("email queue task failed", zap.Error(err))
		return
	}
	q.metrics.IncEmailTask("succeeded")
}

func (q *Queue) executeWithTimeout(t *task) error {
	ctx, cancel := context.WithTimeout(t.ctx, q.taskTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- t.run(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		err := ctx.Err()
		t.abandon(err)
		if t.ctx.Err() == nil {
			q.logger.Warn("email queue task timed out, moving on",
				zap.Duration("timeout", q.taskTimeout),
			)
		}
		return err
	}
}
