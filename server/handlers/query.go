package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/history"
	"github.com/localsql/explorer/pkg/metrics"
	"github.com/localsql/explorer/pkg/sqlsplit"
	"github.com/localsql/explorer/server/apierror"
	"github.com/localsql/explorer/server/types"
)

// QueryHandler serves synchronous execution, metrics, and history.
type QueryHandler struct {
	engine       *engine.Engine
	collector    *metrics.Collector
	history      *history.Store
	historyLimit int
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(eng *engine.Engine, collector *metrics.Collector, hist *history.Store, historyLimit int) *QueryHandler {
	return &QueryHandler{
		engine:       eng,
		collector:    collector,
		history:      hist,
		historyLimit: historyLimit,
	}
}

// ExecuteQuery handles POST /api/v1/query. The statement runs to completion
// before the response is written.
func (h *QueryHandler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SQL == "" {
		writeError(w, apierror.NewInvalidParameterError("sql", "is required"))
		return
	}

	ctx := r.Context()
	resp, err := h.runStatement(ctx, req.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runStatement executes one statement, records it in history, and builds
// the response body.
func (h *QueryHandler) runStatement(ctx context.Context, sqlText string) (*types.QueryResponse, error) {
	entry := history.Entry{SQL: sqlText}

	if sqlsplit.Classify(sqlText) == sqlsplit.KindQuery {
		result, err := h.engine.Execute(ctx, sqlText)
		if err != nil {
			entry.Error = apierror.FromError(err).Message
			h.record(ctx, entry)
			return nil, err
		}
		entry.Success = true
		entry.RowCount = result.RowCount()
		entry.Elapsed = result.Elapsed
		h.record(ctx, entry)
		return &types.QueryResponse{
			Success:   true,
			Columns:   result.Columns,
			Rows:      result.Rows,
			RowCount:  result.RowCount(),
			ElapsedMS: elapsedMS(result.Elapsed),
		}, nil
	}

	result, err := h.engine.Exec(ctx, sqlText)
	if err != nil {
		entry.Error = apierror.FromError(err).Message
		h.record(ctx, entry)
		return nil, err
	}
	entry.Success = true
	entry.RowCount = result.RowsAffected
	entry.Elapsed = result.Elapsed
	h.record(ctx, entry)
	return &types.QueryResponse{
		Success:      true,
		RowCount:     result.RowsAffected,
		RowsAffected: result.RowsAffected,
		ElapsedMS:    elapsedMS(result.Elapsed),
	}, nil
}

func (h *QueryHandler) record(ctx context.Context, entry history.Entry) {
	if h.history == nil {
		return
	}
	// History failures never fail the query they describe.
	_, _ = h.history.Record(ctx, entry)
}

// ComputeMetrics handles POST /api/v1/metrics.
func (h *QueryHandler) ComputeMetrics(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SQL == "" {
		writeError(w, apierror.NewInvalidParameterError("sql", "is required"))
		return
	}

	report, err := h.collector.Compute(r.Context(), req.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListHistory handles GET /api/v1/history. An optional search term narrows
// the result; favorites=true lists favorites only.
func (h *QueryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, apierror.NewNotFoundError("history", "store"))
		return
	}

	limit := h.historyLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, apierror.NewInvalidParameterError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	var (
		entries []history.Entry
		err     error
	)
	switch {
	case r.URL.Query().Get("favorites") == "true":
		entries, err = h.history.Favorites(r.Context())
	case r.URL.Query().Get("search") != "":
		entries, err = h.history.Search(r.Context(), r.URL.Query().Get("search"), limit)
	default:
		entries, err = h.history.List(r.Context(), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// SetFavorite handles POST /api/v1/history/{id}/favorite.
func (h *QueryHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, apierror.NewNotFoundError("history", "store"))
		return
	}

	var req types.FavoriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.history.SetFavorite(r.Context(), id, req.Favorite); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": req.Favorite})
}

func elapsedMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
