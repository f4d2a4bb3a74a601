// Package engine adapts the embedded DuckDB engine behind a synchronous,
// fully-materializing call surface with elapsed-time reporting.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/localsql/explorer/pkg/connection"
	"github.com/localsql/explorer/server/apierror"
)

// Engine executes single statements against the shared connection. It is
// safe for concurrent use; serialization happens in the connection manager.
type Engine struct {
	mgr *connection.Manager
}

// Result is a fully materialized row-returning execution.
type Result struct {
	Columns []Column
	Rows    []Row
	Elapsed time.Duration
}

// RowCount returns the number of materialized rows.
func (r *Result) RowCount() int64 {
	return int64(len(r.Rows))
}

// ExecResult is the outcome of a non-row statement.
type ExecResult struct {
	RowsAffected int64
	Elapsed      time.Duration
}

// New creates an engine adapter over the given connection manager.
func New(mgr *connection.Manager) *Engine {
	return &Engine{mgr: mgr}
}

// Normalize trims whitespace and a trailing semicolon so statements can be
// embedded as subqueries.
func Normalize(sql string) string {
	return strings.TrimSuffix(strings.TrimSpace(sql), ";")
}

// Execute runs a row-returning statement and materializes every row.
// Engine failures come back as query errors with the engine's message
// verbatim.
func (e *Engine) Execute(ctx context.Context, sqlText string) (*Result, error) {
	start := time.Now()

	rows, err := e.mgr.Query(ctx, sqlText)
	if err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}

	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, DeclaredType: "VARCHAR", Kind: KindText}
	}
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			if i >= len(columns) {
				break
			}
			declared := ct.DatabaseTypeName()
			if declared != "" {
				columns[i].DeclaredType = declared
				columns[i].Kind = KindForDeclaredType(declared)
			}
		}
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(names))
		valuePtrs := make([]any, len(names))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, apierror.NewQueryError(err.Error())
		}

		row := make(Row, len(names))
		for i, val := range values {
			row[i] = FromDriver(val)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}

	return &Result{
		Columns: columns,
		Rows:    result,
		Elapsed: time.Since(start),
	}, nil
}

// Exec runs a non-row statement (INSERT, UPDATE, CREATE, ...).
func (e *Engine) Exec(ctx context.Context, sqlText string) (*ExecResult, error) {
	start := time.Now()

	res, err := e.mgr.Exec(ctx, sqlText)
	if err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	return &ExecResult{
		RowsAffected: affected,
		Elapsed:      time.Since(start),
	}, nil
}

// Schema returns the ordered column schema of a query without fetching any
// rows, by probing with a LIMIT 0 wrapper. Unlike DESCRIBE it works for
// arbitrary SELECTs, not just tables.
func (e *Engine) Schema(ctx context.Context, sqlText string) ([]Column, error) {
	probe := fmt.Sprintf("SELECT * FROM (%s) AS schema_probe LIMIT 0", Normalize(sqlText))

	rows, err := e.mgr.Query(ctx, probe)
	if err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}
	defer func() { _ = rows.Close() }()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}

	columns := make([]Column, len(colTypes))
	for i, ct := range colTypes {
		declared := ct.DatabaseTypeName()
		if declared == "" {
			declared = "VARCHAR"
		}
		columns[i] = Column{
			Name:         ct.Name(),
			DeclaredType: declared,
			Kind:         KindForDeclaredType(declared),
		}
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewQueryError(err.Error())
	}
	return columns, nil
}

// CountRows returns the total row count of a query via a COUNT(*) wrapper,
// without materializing the result.
func (e *Engine) CountRows(ctx context.Context, sqlText string) (int64, error) {
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS count_query", Normalize(sqlText))

	var total int64
	if err := e.mgr.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		return 0, apierror.NewQueryError(err.Error())
	}
	return total, nil
}
