// Package types defines the request and response shapes of the HTTP API.
package types

import (
	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/paginate"
)

// QueryRequest asks for one statement to be executed.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// QueryResponse is a completed execution. Rows is null for non-row
// statements.
type QueryResponse struct {
	Success      bool            `json:"success"`
	Columns      []engine.Column `json:"columns,omitempty"`
	Rows         []engine.Row    `json:"rows,omitempty"`
	RowCount     int64           `json:"row_count"`
	RowsAffected int64           `json:"rows_affected,omitempty"`
	ElapsedMS    float64         `json:"elapsed_ms"`
}

// StatementResponse reports an asynchronous statement's state.
type StatementResponse struct {
	Handle      string         `json:"handle"`
	Status      string         `json:"status"`
	SQL         string         `json:"sql"`
	CreatedOn   string         `json:"created_on"`
	CompletedOn string         `json:"completed_on,omitempty"`
	Result      *QueryResponse `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// BatchRequest submits either a semicolon-separated script or an explicit
// query list. When both are present the list wins.
type BatchRequest struct {
	Script  string   `json:"script,omitempty"`
	Queries []string `json:"queries,omitempty"`
}

// BatchQueryResult is one query's outcome within a batch.
type BatchQueryResult struct {
	Index     int     `json:"index"`
	SQL       string  `json:"sql"`
	Success   bool    `json:"success"`
	RowCount  int64   `json:"row_count"`
	ElapsedMS float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
}

// BatchSummaryResponse aggregates a finished batch.
type BatchSummaryResponse struct {
	SuccessfulCount int     `json:"successful_count"`
	FailedCount     int     `json:"failed_count"`
	TotalRows       int64   `json:"total_rows"`
	TotalElapsedMS  float64 `json:"total_elapsed_ms"`
	Cancelled       bool    `json:"cancelled"`
}

// BatchResponse reports a batch's state: per-query results so far, and the
// summary once complete.
type BatchResponse struct {
	Handle  string                `json:"handle"`
	Status  string                `json:"status"`
	Results []BatchQueryResult    `json:"results"`
	Summary *BatchSummaryResponse `json:"summary,omitempty"`
}

// PaginateRequest opens a paging session over a query.
type PaginateRequest struct {
	SQL      string `json:"sql"`
	PageSize int    `json:"page_size,omitempty"`
}

// FilterRequest narrows a paging session to rows matching a pattern.
type FilterRequest struct {
	Column        string `json:"column,omitempty"`
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// PageResponse is one page of a paging session, with opaque cursors for
// the neighboring pages.
type PageResponse struct {
	SessionID  string            `json:"session_id"`
	Info       paginate.PageInfo `json:"page_info"`
	Columns    []engine.Column   `json:"columns"`
	Rows       []engine.Row      `json:"rows"`
	NextCursor string            `json:"next_cursor,omitempty"`
	PrevCursor string            `json:"prev_cursor,omitempty"`
}

// FavoriteRequest toggles the favorite flag on a history entry.
type FavoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
}
