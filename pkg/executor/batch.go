package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchSummary aggregates one batch run. Results holds per-query outcomes
// in submission order; a cancelled batch omits the queries never started.
type BatchSummary struct {
	Results         []*ExecutionResult
	SuccessfulCount int
	FailedCount     int
	TotalRows       int64
	TotalElapsed    time.Duration
	Cancelled       bool
}

// BatchCallbacks are the sinks a batch reports through. OnQueryComplete
// fires once per attempted query, in submission order; OnBatchComplete
// fires exactly once at the end, cancelled or not.
type BatchCallbacks struct {
	OnProgress      func(message string, current, total int)
	OnQueryComplete func(index int, res *ExecutionResult)
	OnBatchComplete func(*BatchSummary)
}

// Batch sequences independent queries through one background executor, one
// at a time. Sequential execution bounds resource use and keeps results in
// submission order; a failing query does not halt the batch.
type Batch struct {
	bg *Background

	mu        sync.Mutex
	cancelled bool
	stop      chan struct{}
	inFlight  string
}

// NewBatch creates a batch runner over the given executor.
func NewBatch(bg *Background) *Batch {
	return &Batch{bg: bg, stop: make(chan struct{})}
}

// Cancel stops dispatch of not-yet-started queries and best-effort cancels
// the in-flight one.
func (b *Batch) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return
	}
	b.cancelled = true
	close(b.stop)
	if b.inFlight != "" {
		_ = b.bg.Cancel(b.inFlight)
	}
}

func (b *Batch) isCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Run executes the queries and blocks until the batch completes or is
// cancelled. Callers wanting it off their own goroutine run it on one.
func (b *Batch) Run(ctx context.Context, queries []string, cb BatchCallbacks) *BatchSummary {
	summary := &BatchSummary{}
	total := len(queries)

	for i, sqlText := range queries {
		if b.isCancelled() {
			break
		}

		if cb.OnProgress != nil {
			cb.OnProgress(fmt.Sprintf("executing query %d of %d", i+1, total), i, total)
		}

		res := b.runOne(ctx, sqlText)
		if res == nil {
			// Cancelled mid-flight; nothing was delivered.
			break
		}

		summary.Results = append(summary.Results, res)
		if res.Success {
			summary.SuccessfulCount++
			summary.TotalRows += res.RowCount
		} else {
			summary.FailedCount++
		}
		summary.TotalElapsed += res.Elapsed

		if cb.OnQueryComplete != nil {
			cb.OnQueryComplete(i, res)
		}
	}

	summary.Cancelled = b.isCancelled()
	if cb.OnBatchComplete != nil {
		cb.OnBatchComplete(summary)
	}
	return summary
}

// runOne submits one query and waits for its outcome. It returns nil when
// the batch was cancelled while the query was in flight.
func (b *Batch) runOne(ctx context.Context, sqlText string) *ExecutionResult {
	done := make(chan *ExecutionResult, 1)

	j, err := b.bg.submit(ctx, sqlText, Callbacks{}, done)
	if err != nil {
		return &ExecutionResult{SQL: sqlText, Err: err}
	}

	b.mu.Lock()
	b.inFlight = j.handle
	cancelled := b.cancelled
	b.mu.Unlock()
	if cancelled {
		_ = b.bg.Cancel(j.handle)
	}

	var res *ExecutionResult
	select {
	case res = <-done:
	case <-b.stop:
		_ = b.bg.Cancel(j.handle)
		res = <-done
	}

	b.mu.Lock()
	b.inFlight = ""
	b.mu.Unlock()

	if b.isCancelled() {
		return nil
	}
	return res
}
