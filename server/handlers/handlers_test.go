package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/localsql/explorer/pkg/config"
	"github.com/localsql/explorer/pkg/connection"
	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/executor"
	"github.com/localsql/explorer/pkg/history"
	"github.com/localsql/explorer/pkg/metrics"
	"github.com/localsql/explorer/server/types"
)

// setupTestServer wires the full handler stack over an in-memory DuckDB
// seeded with a 250-row items table.
func setupTestServer(t *testing.T) http.Handler {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	connMgr := connection.NewManager(db)
	eng := engine.New(connMgr)
	ctx := context.Background()

	_, err = eng.Exec(ctx, "CREATE TABLE items AS SELECT range AS id, 'item_' || range AS name FROM range(250)")
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)

	hist, err := history.NewStore(ctx, connMgr)
	require.NoError(t, err)

	bg, err := executor.New(eng, nil)
	require.NoError(t, err)
	t.Cleanup(bg.Close)

	registry := executor.NewRegistry(time.Hour)
	t.Cleanup(registry.Close)

	collector := metrics.NewCollector(eng, cfg.Metrics.MaxRows, cfg.Metrics.SampleValues)

	queryHandler := NewQueryHandler(eng, collector, hist, cfg.History.Limit)
	stmtHandler := NewStatementHandler(bg, registry, hist)
	batchHandler := NewBatchHandler(bg, hist, time.Hour)
	t.Cleanup(batchHandler.Close)
	pageHandler := NewPaginateHandler(eng, collector, cfg, time.Hour)
	t.Cleanup(pageHandler.Close)

	return NewRouter(queryHandler, stmtHandler, batchHandler, pageHandler)
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestQueryEndpoint(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/query", types.QueryRequest{SQL: "SELECT * FROM items ORDER BY id LIMIT 3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success  bool    `json:"success"`
		RowCount int64   `json:"row_count"`
		Rows     [][]any `json:"rows"`
		Columns  []struct {
			Name string `json:"name"`
		} `json:"columns"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(3), resp.RowCount)
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, "item_2", resp.Rows[2][1])
	require.Len(t, resp.Columns, 2)
	assert.Equal(t, "id", resp.Columns[0].Name)
}

func TestQueryEndpoint_Exec(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/query", types.QueryRequest{SQL: "DELETE FROM items WHERE id >= 200"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		RowsAffected int64 `json:"rows_affected"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, int64(50), resp.RowsAffected)
}

func TestQueryEndpoint_Errors(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/query", types.QueryRequest{SQL: "SELECT * FROM missing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var apiResp struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	decode(t, rec, &apiResp)
	assert.False(t, apiResp.Success)
	assert.Equal(t, "query_error", apiResp.Code)
	assert.Contains(t, apiResp.Message, "missing")

	rec = doRequest(t, h, http.MethodPost, "/api/v1/query", types.QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &apiResp)
	assert.Equal(t, "invalid_parameter", apiResp.Code)
}

// statementEnvelope decodes a statement response with the rows as raw
// values, since engine values only marshal.
type statementEnvelope struct {
	Handle      string `json:"handle"`
	Status      string `json:"status"`
	CreatedOn   string `json:"created_on"`
	CompletedOn string `json:"completed_on"`
	Error       string `json:"error"`
	Result      *struct {
		Success  bool    `json:"success"`
		RowCount int64   `json:"row_count"`
		Rows     [][]any `json:"rows"`
	} `json:"result"`
}

func pollStatement(t *testing.T, h http.Handler, handle string) statementEnvelope {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/statements/"+handle, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp statementEnvelope
		decode(t, rec, &resp)
		if resp.Status != "pending" && resp.Status != "running" {
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("statement never reached a terminal status")
	return statementEnvelope{}
}

func TestStatementEndpoints(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/statements", types.QueryRequest{SQL: "SELECT * FROM items"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted statementEnvelope
	decode(t, rec, &submitted)
	require.NotEmpty(t, submitted.Handle)
	assert.NotEmpty(t, submitted.CreatedOn)

	final := pollStatement(t, h, submitted.Handle)
	assert.Equal(t, "success", final.Status)
	assert.NotEmpty(t, final.CompletedOn)
	require.NotNil(t, final.Result)
	assert.Equal(t, int64(250), final.Result.RowCount)
}

func TestStatementEndpoints_Error(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/statements", types.QueryRequest{SQL: "SELECT * FROM missing"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted statementEnvelope
	decode(t, rec, &submitted)

	final := pollStatement(t, h, submitted.Handle)
	assert.Equal(t, "failed", final.Status)
	assert.Contains(t, final.Error, "missing")
	assert.NotContains(t, final.Error, "query_error", "the error field carries the engine message verbatim")
	assert.Nil(t, final.Result)
}

func TestStatementEndpoints_NotFound(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/statements/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/statements/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatementEndpoints_CancelCompleted(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/statements", types.QueryRequest{SQL: "SELECT 1"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted statementEnvelope
	decode(t, rec, &submitted)
	pollStatement(t, h, submitted.Handle)

	// Cancelling after completion keeps the outcome.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/statements/"+submitted.Handle+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	final := pollStatement(t, h, submitted.Handle)
	assert.Equal(t, "success", final.Status)
}

func TestBatchEndpoints(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/batch", types.BatchRequest{
		Script: "SELECT COUNT(*) FROM items; SELECT * FROM missing; DELETE FROM items WHERE id < 10",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted types.BatchResponse
	decode(t, rec, &submitted)
	require.NotEmpty(t, submitted.Handle)

	var final types.BatchResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doRequest(t, h, http.MethodGet, "/api/v1/batch/"+submitted.Handle, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &final)
		if final.Status != "running" {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatal("batch never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, "complete", final.Status)
	require.Len(t, final.Results, 3)
	assert.True(t, final.Results[0].Success)
	assert.False(t, final.Results[1].Success)
	assert.Contains(t, final.Results[1].Error, "missing")
	assert.NotContains(t, final.Results[1].Error, "query_error")
	assert.True(t, final.Results[2].Success)

	require.NotNil(t, final.Summary)
	assert.Equal(t, 2, final.Summary.SuccessfulCount)
	assert.Equal(t, 1, final.Summary.FailedCount)
	assert.False(t, final.Summary.Cancelled)
}

func TestBatchEndpoints_EmptyRequest(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/batch", types.BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaginateEndpoints(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/paginate", types.PaginateRequest{
		SQL:      "SELECT * FROM items ORDER BY id",
		PageSize: 100,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first pageEnvelope
	decode(t, rec, &first)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, 0, first.Info.PageNumber)
	assert.Equal(t, int64(250), first.Info.TotalRows)
	assert.Equal(t, 3, first.Info.TotalPages)
	assert.Len(t, first.Rows, 100)
	assert.NotEmpty(t, first.NextCursor)
	assert.Empty(t, first.PrevCursor)

	// Direct page fetch.
	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/paginate/%s/pages/2", first.SessionID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var last pageEnvelope
	decode(t, rec, &last)
	assert.Len(t, last.Rows, 50)
	assert.Empty(t, last.NextCursor)
	assert.NotEmpty(t, last.PrevCursor)

	// Cursor walk from page 0 to page 1.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/paginate/pages?cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second pageEnvelope
	decode(t, rec, &second)
	assert.Equal(t, 1, second.Info.PageNumber)
	assert.Len(t, second.Rows, 100)

	// Out-of-range page.
	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/paginate/%s/pages/3", first.SessionID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Session metrics.
	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/paginate/%s/metrics", first.SessionID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		RowCount    int64 `json:"row_count"`
		ColumnCount int   `json:"column_count"`
	}
	decode(t, rec, &report)
	assert.Equal(t, int64(250), report.RowCount)
	assert.Equal(t, 2, report.ColumnCount)

	// Close the session; further fetches miss.
	rec = doRequest(t, h, http.MethodDelete, "/api/v1/paginate/"+first.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/paginate/%s/pages/0", first.SessionID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// pageEnvelope decodes a page response with rows as raw values.
type pageEnvelope struct {
	SessionID  string            `json:"session_id"`
	Info       pageInfoEnvelope  `json:"page_info"`
	Rows       [][]any           `json:"rows"`
	NextCursor string            `json:"next_cursor"`
	PrevCursor string            `json:"prev_cursor"`
}

type pageInfoEnvelope struct {
	PageNumber int   `json:"page_number"`
	TotalRows  int64 `json:"total_rows"`
	TotalPages int   `json:"total_pages"`
}

func TestPaginateEndpoints_Filter(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/paginate", types.PaginateRequest{
		SQL: "SELECT * FROM items ORDER BY id",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var base pageEnvelope
	decode(t, rec, &base)

	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/paginate/%s/filter", base.SessionID), types.FilterRequest{
		Column:  "name",
		Pattern: "item_24",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var filtered pageEnvelope
	decode(t, rec, &filtered)
	assert.NotEqual(t, base.SessionID, filtered.SessionID, "filtering opens a new session")
	// item_24 plus item_240..item_249.
	assert.Equal(t, int64(11), filtered.Info.TotalRows)

	// An empty pattern keeps the original session.
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/paginate/%s/filter", base.SessionID), types.FilterRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var unfiltered pageEnvelope
	decode(t, rec, &unfiltered)
	assert.Equal(t, base.SessionID, unfiltered.SessionID)
	assert.Equal(t, int64(250), unfiltered.Info.TotalRows)
}

func TestPaginateEndpoints_EmptyResult(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/paginate", types.PaginateRequest{
		SQL: "SELECT * FROM items WHERE id < 0",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp pageEnvelope
	decode(t, rec, &resp)
	assert.Equal(t, int64(0), resp.Info.TotalRows)
	assert.Empty(t, resp.Rows)
	assert.Empty(t, resp.NextCursor)
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/metrics", types.QueryRequest{SQL: "SELECT * FROM items"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report struct {
		RowCount int64 `json:"row_count"`
		Columns  []struct {
			Name          string `json:"name"`
			NullCount     int64  `json:"null_count"`
			DistinctCount int64  `json:"distinct_count"`
		} `json:"columns"`
	}
	decode(t, rec, &report)
	assert.Equal(t, int64(250), report.RowCount)
	require.Len(t, report.Columns, 2)
	assert.Equal(t, int64(250), report.Columns[0].DistinctCount)
}

func TestHistoryEndpoints(t *testing.T) {
	h := setupTestServer(t)

	doRequest(t, h, http.MethodPost, "/api/v1/query", types.QueryRequest{SQL: "SELECT COUNT(*) FROM items"})
	doRequest(t, h, http.MethodPost, "/api/v1/query", types.QueryRequest{SQL: "SELECT * FROM missing"})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entries []history.Entry
	decode(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "SELECT * FROM missing", entries[0].SQL)
	assert.False(t, entries[0].Success)
	assert.True(t, entries[1].Success)

	// Search narrows by substring.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/history?search=count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &entries)
	require.Len(t, entries, 1)

	// Favorite the successful query.
	id := entries[0].ID
	rec = doRequest(t, h, http.MethodPost, "/api/v1/history/"+id+"/favorite", types.FavoriteRequest{Favorite: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, h, http.MethodGet, "/api/v1/history?favorites=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}

func TestHealthEndpoint(t *testing.T) {
	h := setupTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
}
