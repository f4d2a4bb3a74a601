package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/localsql/explorer/pkg/executor"
	"github.com/localsql/explorer/pkg/history"
	"github.com/localsql/explorer/pkg/sqlsplit"
	"github.com/localsql/explorer/server/apierror"
	"github.com/localsql/explorer/server/types"
)

const (
	batchStatusRunning   = "running"
	batchStatusComplete  = "complete"
	batchStatusCancelled = "cancelled"
)

type batchJob struct {
	handle  string
	status  string
	batch   *executor.Batch
	results []*executor.ExecutionResult
	summary *executor.BatchSummary
	created time.Time
	done    *time.Time
}

// BatchHandler serves multi-query batch submission and polling.
type BatchHandler struct {
	bg      *executor.Background
	history *history.Store
	ttl     time.Duration

	mu   sync.Mutex
	jobs map[string]*batchJob
	stop chan struct{}
	once sync.Once
}

// NewBatchHandler creates a batch handler and starts its eviction loop.
func NewBatchHandler(bg *executor.Background, hist *history.Store, ttl time.Duration) *BatchHandler {
	h := &BatchHandler{
		bg:      bg,
		history: hist,
		ttl:     ttl,
		jobs:    make(map[string]*batchJob),
		stop:    make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

// Close stops the eviction loop.
func (h *BatchHandler) Close() {
	h.once.Do(func() { close(h.stop) })
}

// Submit handles POST /api/v1/batch. Queries run sequentially off the
// request goroutine; the handle is returned immediately.
func (h *BatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req types.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	queries := req.Queries
	if len(queries) == 0 && req.Script != "" {
		for _, stmt := range sqlsplit.Split(req.Script) {
			queries = append(queries, stmt.SQL)
		}
	}
	if len(queries) == 0 {
		writeError(w, apierror.NewInvalidParameterError("queries", "at least one query is required"))
		return
	}

	job := &batchJob{
		handle:  uuid.NewString(),
		status:  batchStatusRunning,
		batch:   executor.NewBatch(h.bg),
		created: time.Now(),
	}
	h.mu.Lock()
	h.jobs[job.handle] = job
	h.mu.Unlock()

	go h.run(job, queries)

	writeJSON(w, http.StatusAccepted, h.response(job.handle))
}

func (h *BatchHandler) run(job *batchJob, queries []string) {
	job.batch.Run(context.Background(), queries, executor.BatchCallbacks{
		OnQueryComplete: func(_ int, res *executor.ExecutionResult) {
			h.mu.Lock()
			job.results = append(job.results, res)
			h.mu.Unlock()
			h.record(res)
		},
		OnBatchComplete: func(summary *executor.BatchSummary) {
			now := time.Now()
			h.mu.Lock()
			job.summary = summary
			job.done = &now
			if summary.Cancelled {
				job.status = batchStatusCancelled
			} else {
				job.status = batchStatusComplete
			}
			h.mu.Unlock()
		},
	})
}

// Get handles GET /api/v1/batch/{handle}.
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	resp := h.response(handle)
	if resp == nil {
		writeError(w, apierror.NewNotFoundError("batch", handle))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/v1/batch/{handle}/cancel. Already completed
// queries keep their results.
func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	h.mu.Lock()
	job, ok := h.jobs[handle]
	h.mu.Unlock()
	if !ok {
		writeError(w, apierror.NewNotFoundError("batch", handle))
		return
	}

	job.batch.Cancel()
	writeJSON(w, http.StatusOK, h.response(handle))
}

func (h *BatchHandler) response(handle string) *types.BatchResponse {
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.jobs[handle]
	if !ok {
		return nil
	}

	resp := &types.BatchResponse{
		Handle:  job.handle,
		Status:  job.status,
		Results: make([]types.BatchQueryResult, 0, len(job.results)),
	}
	for i, res := range job.results {
		qr := types.BatchQueryResult{
			Index:     i,
			SQL:       res.SQL,
			Success:   res.Success,
			RowCount:  res.RowCount,
			ElapsedMS: elapsedMS(res.Elapsed),
		}
		if res.Err != nil {
			qr.Error = apierror.FromError(res.Err).Message
		}
		resp.Results = append(resp.Results, qr)
	}
	if job.summary != nil {
		resp.Summary = &types.BatchSummaryResponse{
			SuccessfulCount: job.summary.SuccessfulCount,
			FailedCount:     job.summary.FailedCount,
			TotalRows:       job.summary.TotalRows,
			TotalElapsedMS:  elapsedMS(job.summary.TotalElapsed),
			Cancelled:       job.summary.Cancelled,
		}
	}
	return resp
}

func (h *BatchHandler) record(res *executor.ExecutionResult) {
	if h.history == nil {
		return
	}
	entry := history.Entry{
		SQL:      res.SQL,
		Success:  res.Success,
		RowCount: res.RowCount,
		Elapsed:  res.Elapsed,
	}
	if res.Err != nil {
		entry.Error = apierror.FromError(res.Err).Message
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = h.history.Record(ctx, entry)
}

func (h *BatchHandler) cleanupLoop() {
	ticker := time.NewTicker(h.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanup()
		case <-h.stop:
			return
		}
	}
}

func (h *BatchHandler) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for handle, job := range h.jobs {
		if job.done != nil && now.Sub(*job.done) > h.ttl {
			delete(h.jobs, handle)
		}
	}
}
