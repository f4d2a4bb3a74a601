// Package filter narrows query results, either in memory over an already
// fetched page or at the engine over the full result set.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/paginate"
	"github.com/localsql/explorer/server/apierror"
)

// Spec describes one filter: a substring pattern, an optional target
// column (empty means every column), and case sensitivity.
type Spec struct {
	Column        string `json:"column"`
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// PageMatch is the outcome of filtering one in-memory page.
type PageMatch struct {
	Columns    []engine.Column
	Rows       []engine.Row
	MatchCount int
}

// Engine derives filtered views of query results.
type Engine struct {
	engine *engine.Engine
}

// NewEngine creates a filter engine over the given adapter.
func NewEngine(eng *engine.Engine) *Engine {
	return &Engine{engine: eng}
}

// FilterPage matches the pattern against the textual rendering of the
// target column(s) of a materialized page, preserving row order. No engine
// round trip happens. An empty pattern matches every row.
func (f *Engine) FilterPage(page *paginate.Page, spec Spec) (*PageMatch, error) {
	columnIdx := -1
	if spec.Column != "" {
		for i, col := range page.Columns {
			if col.Name == spec.Column {
				columnIdx = i
				break
			}
		}
		if columnIdx < 0 {
			return nil, apierror.NewInvalidParameterError("column",
				fmt.Sprintf("no column named %q in page", spec.Column))
		}
	}

	pattern := spec.Pattern
	if !spec.CaseSensitive {
		pattern = strings.ToLower(pattern)
	}

	match := &PageMatch{Columns: page.Columns}
	for _, row := range page.Rows {
		if rowMatches(row, columnIdx, pattern, spec.CaseSensitive) {
			match.Rows = append(match.Rows, row)
			match.MatchCount++
		}
	}
	return match, nil
}

func rowMatches(row engine.Row, columnIdx int, pattern string, caseSensitive bool) bool {
	if pattern == "" {
		return true
	}

	matches := func(v engine.Value) bool {
		cell := v.String()
		if !caseSensitive {
			cell = strings.ToLower(cell)
		}
		return strings.Contains(cell, pattern)
	}

	if columnIdx >= 0 {
		if columnIdx >= len(row) {
			return false
		}
		return matches(row[columnIdx])
	}
	for _, v := range row {
		if matches(v) {
			return true
		}
	}
	return false
}

// Apply derives a full-result filtered view: the base query gains a LIKE
// predicate and is routed through a fresh paginator, so filtered results
// page exactly like unfiltered ones. An empty pattern is a no-op returning
// the original paginator.
func (f *Engine) Apply(ctx context.Context, p *paginate.Paginator, spec Spec) (*paginate.Paginator, error) {
	if spec.Pattern == "" {
		return p, nil
	}

	filteredSQL, err := f.FilteredSQL(ctx, p.BaseSQL(), spec)
	if err != nil {
		return nil, err
	}
	return paginate.New(f.engine, filteredSQL, p.PageSize())
}

// FilteredSQL returns the derived query for a filter over the given base
// query. With no column specified, the predicate ORs across every column's
// textual rendering.
func (f *Engine) FilteredSQL(ctx context.Context, baseSQL string, spec Spec) (string, error) {
	base := engine.Normalize(baseSQL)

	schema, err := f.engine.Schema(ctx, base)
	if err != nil {
		return "", err
	}

	var columns []string
	if spec.Column != "" {
		for _, col := range schema {
			if col.Name == spec.Column {
				columns = []string{spec.Column}
				break
			}
		}
		if columns == nil {
			return "", apierror.NewInvalidParameterError("column",
				fmt.Sprintf("no column named %q in result", spec.Column))
		}
	} else {
		for _, col := range schema {
			columns = append(columns, col.Name)
		}
	}

	conditions := make([]string, 0, len(columns))
	for _, col := range columns {
		conditions = append(conditions, likeCondition(col, spec.Pattern, spec.CaseSensitive))
	}

	return fmt.Sprintf("SELECT * FROM (%s) AS filtered_query WHERE %s",
		base, strings.Join(conditions, " OR ")), nil
}

// likeCondition builds one LIKE predicate over a column's VARCHAR cast.
// The pattern is a literal substring: LIKE metacharacters are escaped, and
// case-insensitive matching uppercases both sides.
func likeCondition(column, pattern string, caseSensitive bool) string {
	expr := fmt.Sprintf("CAST(%s AS VARCHAR)", quoteIdent(column))
	like := fmt.Sprintf("'%%%s%%'", escapePattern(pattern))
	if !caseSensitive {
		return fmt.Sprintf("UPPER(%s) LIKE UPPER(%s) ESCAPE '\\'", expr, like)
	}
	return fmt.Sprintf("%s LIKE %s ESCAPE '\\'", expr, like)
}

// quoteIdent quotes a column name as a SQL identifier, doubling embedded
// quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapePattern makes a user string safe inside a single-quoted LIKE
// pattern with backslash escaping.
func escapePattern(pattern string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
		`'`, `''`,
	)
	return r.Replace(pattern)
}
