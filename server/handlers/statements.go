package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/localsql/explorer/pkg/executor"
	"github.com/localsql/explorer/pkg/history"
	"github.com/localsql/explorer/server/apierror"
	"github.com/localsql/explorer/server/types"
)

// StatementHandler serves asynchronous statement submission and polling.
type StatementHandler struct {
	bg       *executor.Background
	registry *executor.Registry
	history  *history.Store
}

// NewStatementHandler creates a statement handler.
func NewStatementHandler(bg *executor.Background, registry *executor.Registry, hist *history.Store) *StatementHandler {
	return &StatementHandler{bg: bg, registry: registry, history: hist}
}

// Submit handles POST /api/v1/statements. The statement is queued and the
// handle returned immediately; clients poll Get for the outcome.
func (h *StatementHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SQL == "" {
		writeError(w, apierror.NewInvalidParameterError("sql", "is required"))
		return
	}

	handle := h.registry.Create(req.SQL)
	sqlText := req.SQL

	// The statement outlives the request, so callbacks must not touch the
	// request context.
	execHandle, err := h.bg.Submit(context.Background(), sqlText, executor.Callbacks{
		OnSuccess: func(res *executor.ExecutionResult) {
			h.registry.SetResult(handle, res)
			h.record(history.Entry{
				SQL:      sqlText,
				Success:  true,
				RowCount: res.RowCount,
				Elapsed:  res.Elapsed,
			})
		},
		OnError: func(message string) {
			h.registry.SetError(handle, apierror.NewQueryError(message))
			h.record(history.Entry{SQL: sqlText, Error: message})
		},
	})
	if err != nil {
		h.registry.Delete(handle)
		writeError(w, err)
		return
	}
	h.registry.BindExecution(handle, execHandle)

	stmt, _ := h.registry.Get(handle)
	writeJSON(w, http.StatusAccepted, statementResponse(stmt))
}

// Get handles GET /api/v1/statements/{handle}.
func (h *StatementHandler) Get(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	stmt, ok := h.registry.Get(handle)
	if !ok {
		writeError(w, apierror.NewNotFoundError("statement", handle))
		return
	}
	writeJSON(w, http.StatusOK, statementResponse(stmt))
}

// Cancel handles POST /api/v1/statements/{handle}/cancel. Cancellation is
// best-effort; a statement that already completed keeps its outcome.
func (h *StatementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	execHandle, err := h.registry.Cancel(handle)
	if err != nil {
		writeError(w, err)
		return
	}
	if execHandle != "" {
		// The job may have just finished; a missing handle is fine.
		_ = h.bg.Cancel(execHandle)
	}

	stmt, _ := h.registry.Get(handle)
	writeJSON(w, http.StatusOK, statementResponse(stmt))
}

func (h *StatementHandler) record(entry history.Entry) {
	if h.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = h.history.Record(ctx, entry)
}

func statementResponse(stmt executor.Statement) types.StatementResponse {
	resp := types.StatementResponse{
		Handle:    stmt.Handle,
		Status:    string(stmt.Status),
		SQL:       stmt.SQL,
		CreatedOn: stmt.CreatedOn.Format(time.RFC3339Nano),
	}
	if stmt.CompletedOn != nil {
		resp.CompletedOn = stmt.CompletedOn.Format(time.RFC3339Nano)
	}
	if stmt.Err != nil {
		resp.Error = stmt.Err.Message
	}
	if stmt.Result != nil && stmt.Result.Success {
		resp.Result = executionResponse(stmt.Result)
	}
	return resp
}

func executionResponse(res *executor.ExecutionResult) *types.QueryResponse {
	qr := &types.QueryResponse{
		Success:      res.Success,
		RowCount:     res.RowCount,
		RowsAffected: res.RowsAffected,
		ElapsedMS:    elapsedMS(res.Elapsed),
	}
	if res.Result != nil {
		qr.Columns = res.Result.Columns
		qr.Rows = res.Result.Rows
	}
	return qr
}
