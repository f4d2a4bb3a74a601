// Package executor runs statements off the caller's goroutine, delivering
// outcomes through callback sinks with in-order, at-most-once guarantees.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/sqlsplit"
	"github.com/localsql/explorer/server/apierror"
)

// BusyPolicy decides what happens when a statement is submitted while
// another is still in flight on the same executor.
type BusyPolicy int

// Busy policies. Queueing is the default: it avoids races over shared
// paginator state and keeps callback order equal to submission order.
const (
	BusyQueue BusyPolicy = iota
	BusyReject
)

// queueCapacity bounds how many submissions may wait on one executor.
const queueCapacity = 64

// ExecutionResult is the outcome of one statement execution.
type ExecutionResult struct {
	SQL          string
	Success      bool
	Result       *engine.Result // nil unless the statement returned rows
	RowCount     int64
	RowsAffected int64
	Elapsed      time.Duration
	Err          error // nil iff Success
}

// Callbacks are the sinks one submission reports through. Exactly one of
// OnSuccess/OnError fires, exactly once, unless the submission is cancelled
// first, in which case neither does. All callbacks for one executor,
// progress included, fire from a single goroutine, in submission order.
type Callbacks struct {
	OnProgress func(message string, percent int)
	OnSuccess  func(*ExecutionResult)
	OnError    func(message string)
}

type job struct {
	handle    string
	sql       string
	cb        Callbacks
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan *ExecutionResult // optional; receives the outcome even when callbacks are empty
	mu        sync.Mutex
	cancelled bool
}

func (j *job) markCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return false
	}
	j.cancelled = true
	return true
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Background executes one statement at a time on a worker pool, keeping the
// submitting goroutine free. At most one execution is in flight per
// instance; further submissions queue (or are rejected, per policy).
type Background struct {
	engine *engine.Engine
	pool   *ants.Pool
	policy BusyPolicy

	ownsPool bool
	jobs     chan *job
	wg       sync.WaitGroup

	mu       sync.Mutex
	active   map[string]*job
	inFlight int
	closed   bool
}

// Option configures a Background executor.
type Option func(*Background)

// WithBusyPolicy selects the behavior for overlapping submissions.
func WithBusyPolicy(p BusyPolicy) Option {
	return func(b *Background) { b.policy = p }
}

// New creates a background executor. The pool may be shared between
// executors to bound total concurrency; passing nil creates a dedicated
// single-worker pool owned (and released) by this executor.
func New(eng *engine.Engine, pool *ants.Pool, opts ...Option) (*Background, error) {
	b := &Background{
		engine: eng,
		pool:   pool,
		policy: BusyQueue,
		jobs:   make(chan *job, queueCapacity),
		active: make(map[string]*job),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.pool == nil {
		pool, err := ants.NewPool(1)
		if err != nil {
			return nil, apierror.NewInternalError(err.Error())
		}
		b.pool = pool
		b.ownsPool = true
	}

	b.wg.Add(1)
	go b.dispatchLoop()
	return b, nil
}

// Submit enqueues one statement. It returns a handle usable with Cancel.
// Under the reject policy a submission while another is queued or running
// fails with a busy error.
func (b *Background) Submit(ctx context.Context, sqlText string, cb Callbacks) (string, error) {
	j, err := b.submit(ctx, sqlText, cb, nil)
	if err != nil {
		return "", err
	}
	return j.handle, nil
}

func (b *Background) submit(ctx context.Context, sqlText string, cb Callbacks, done chan *ExecutionResult) (*job, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, apierror.NewInternalError("executor is closed")
	}
	if b.policy == BusyReject && b.inFlight > 0 {
		b.mu.Unlock()
		return nil, apierror.NewBusyError()
	}

	jctx, cancel := context.WithCancel(ctx)
	j := &job{
		handle: uuid.NewString(),
		sql:    sqlText,
		cb:     cb,
		ctx:    jctx,
		cancel: cancel,
		done:   done,
	}

	// The send stays under the mutex. Close sets closed and closes the
	// channel under the same mutex, so a submission that passed the closed
	// check above cannot send on a closed channel.
	select {
	case b.jobs <- j:
	default:
		b.mu.Unlock()
		cancel()
		return nil, apierror.NewBusyError()
	}
	b.inFlight++
	b.active[j.handle] = j
	b.mu.Unlock()

	return j, nil
}

// Cancel requests cancellation of a queued or running submission. It is
// best-effort: the statement context is cancelled, which stops the engine
// when it cooperates, and the outcome is suppressed either way. Cancelling
// an unknown or already-completed handle returns a not-found error.
func (b *Background) Cancel(handle string) error {
	b.mu.Lock()
	j, ok := b.active[handle]
	b.mu.Unlock()
	if !ok {
		return apierror.NewNotFoundError("execution", handle)
	}
	if j.markCancelled() {
		j.cancel()
	}
	return nil
}

// Close stops accepting work, drains the queue, and waits for the dispatch
// goroutine. Queued jobs still execute and deliver.
func (b *Background) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()

	b.wg.Wait()
	if b.ownsPool {
		_ = b.pool.ReleaseTimeout(3 * time.Second)
	}
}

// dispatchLoop is the executor's single delivery goroutine. It runs jobs
// one at a time and fires every callback, which makes callback order equal
// submission order and rules out concurrent delivery.
func (b *Background) dispatchLoop() {
	defer b.wg.Done()

	for j := range b.jobs {
		b.dispatch(j)
		b.release(j)
	}
}

func (b *Background) dispatch(j *job) {
	if j.isCancelled() {
		b.finish(j, nil)
		return
	}

	progress(j.cb, "queued", 0)
	progress(j.cb, "executing query", 30)

	outcome := make(chan *ExecutionResult, 1)
	run := func() { outcome <- b.run(j) }
	if err := b.pool.Submit(run); err != nil {
		res := &ExecutionResult{SQL: j.sql, Err: apierror.NewInternalError(err.Error())}
		b.finish(j, res)
		return
	}

	// Wait for the worker even after a cancel: the engine may not honor
	// the context, and the next queued job must not overlap with it.
	res := <-outcome
	b.finish(j, res)
}

// run executes the statement on the worker pool and measures elapsed time.
func (b *Background) run(j *job) *ExecutionResult {
	start := time.Now()

	if sqlsplit.Classify(j.sql) == sqlsplit.KindQuery {
		result, err := b.engine.Execute(j.ctx, j.sql)
		elapsed := time.Since(start)
		if err != nil {
			return &ExecutionResult{SQL: j.sql, Elapsed: elapsed, Err: err}
		}
		return &ExecutionResult{
			SQL:      j.sql,
			Success:  true,
			Result:   result,
			RowCount: result.RowCount(),
			Elapsed:  elapsed,
		}
	}

	execResult, err := b.engine.Exec(j.ctx, j.sql)
	elapsed := time.Since(start)
	if err != nil {
		return &ExecutionResult{SQL: j.sql, Elapsed: elapsed, Err: err}
	}
	return &ExecutionResult{
		SQL:          j.sql,
		Success:      true,
		RowsAffected: execResult.RowsAffected,
		Elapsed:      elapsed,
	}
}

// finish delivers the outcome unless the job was cancelled, then signals
// any synchronous waiter.
func (b *Background) finish(j *job, res *ExecutionResult) {
	j.cancel()

	if res != nil && !j.isCancelled() {
		progress(j.cb, "materializing results", 70)
		progress(j.cb, "finalizing", 90)
		if res.Success {
			if j.cb.OnSuccess != nil {
				j.cb.OnSuccess(res)
			}
		} else if j.cb.OnError != nil {
			// The message is the coded error's own, without the code
			// prefix. Engine messages travel verbatim.
			j.cb.OnError(apierror.FromError(res.Err).Message)
		}
	}

	if j.done != nil {
		if res == nil {
			res = &ExecutionResult{SQL: j.sql, Err: apierror.NewCancelledError()}
		}
		j.done <- res
	}
}

func (b *Background) release(j *job) {
	b.mu.Lock()
	delete(b.active, j.handle)
	b.inFlight--
	b.mu.Unlock()
}

func progress(cb Callbacks, message string, percent int) {
	if cb.OnProgress != nil {
		cb.OnProgress(message, percent)
	}
}
