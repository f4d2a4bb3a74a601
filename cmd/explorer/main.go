// Package main runs the interactive explorer shell.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/peterh/liner"

	"github.com/localsql/explorer/pkg/config"
	"github.com/localsql/explorer/pkg/connection"
	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/filter"
	"github.com/localsql/explorer/pkg/history"
	"github.com/localsql/explorer/pkg/metrics"
	"github.com/localsql/explorer/pkg/paginate"
	"github.com/localsql/explorer/pkg/sqlsplit"
	"github.com/localsql/explorer/server/apierror"
)

const (
	prompt       = "sql> "
	maxCellWidth = 40
)

type shell struct {
	engine    *engine.Engine
	filters   *filter.Engine
	collector *metrics.Collector
	history   *history.Store
	cfg       *config.Config

	paginator  *paginate.Paginator // current paging session, nil when none
	unfiltered *paginate.Paginator
	page       int
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	dbPath := flag.String("db", "", "database path, overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	db, err := sql.Open("duckdb", cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	connMgr := connection.NewManager(db)
	eng := engine.New(connMgr)

	ctx := context.Background()
	hist, err := history.NewStore(ctx, connMgr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize history: %v\n", err)
		os.Exit(1)
	}

	sh := &shell{
		engine:    eng,
		filters:   filter.NewEngine(eng),
		collector: metrics.NewCollector(eng, cfg.Metrics.MaxRows, cfg.Metrics.SampleValues),
		history:   hist,
		cfg:       cfg,
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("explorer shell, database %s\n", cfg.Database.Path)
	fmt.Println(`type SQL to execute, \help for commands, \quit to exit`)

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, `\`) {
			if quit := sh.command(ctx, input); quit {
				return
			}
			continue
		}

		sh.execute(ctx, input)
	}
}

// command dispatches a backslash command. It returns true on quit.
func (s *shell) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case `\quit`, `\q`:
		return true
	case `\help`:
		s.help()
	case `\pages`:
		rest := strings.TrimSpace(strings.TrimPrefix(input, `\pages`))
		s.openPages(ctx, rest)
	case `\next`:
		s.showPage(ctx, s.page+1)
	case `\prev`:
		s.showPage(ctx, s.page-1)
	case `\page`:
		if len(args) != 1 {
			fmt.Println(`usage: \page N`)
			return false
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println(`usage: \page N`)
			return false
		}
		s.showPage(ctx, n)
	case `\filter`:
		rest := strings.TrimSpace(strings.TrimPrefix(input, `\filter`))
		s.applyFilter(ctx, rest)
	case `\metrics`:
		rest := strings.TrimSpace(strings.TrimPrefix(input, `\metrics`))
		s.showMetrics(ctx, rest)
	case `\history`:
		term := ""
		if len(args) > 0 {
			term = args[0]
		}
		s.showHistory(ctx, term)
	default:
		fmt.Printf("unknown command %s, try \\help\n", cmd)
	}
	return false
}

func (s *shell) help() {
	fmt.Print(`commands:
  \pages <sql>            open a paging session over a query
  \next  \prev  \page N   navigate the current session
  \filter <pattern>       filter the session across all columns
  \filter <col> <pattern> filter the session on one column
  \filter                 clear the filter
  \metrics [sql]          column metrics for a query or the current session
  \history [term]         recent queries, optionally matching term
  \quit                   exit
`)
}

func (s *shell) execute(ctx context.Context, sqlText string) {
	entry := history.Entry{SQL: sqlText}

	if sqlsplit.Classify(sqlText) == sqlsplit.KindQuery {
		result, err := s.engine.Execute(ctx, sqlText)
		if err != nil {
			entry.Error = apierror.FromError(err).Message
			s.record(ctx, entry)
			fmt.Printf("error: %v\n", err)
			return
		}
		entry.Success = true
		entry.RowCount = result.RowCount()
		entry.Elapsed = result.Elapsed
		s.record(ctx, entry)
		printTable(result.Columns, result.Rows)
		fmt.Printf("%d rows (%.1f ms)\n", result.RowCount(), float64(result.Elapsed.Microseconds())/1000)
		return
	}

	result, err := s.engine.Exec(ctx, sqlText)
	if err != nil {
		entry.Error = apierror.FromError(err).Message
		s.record(ctx, entry)
		fmt.Printf("error: %v\n", err)
		return
	}
	entry.Success = true
	entry.RowCount = result.RowsAffected
	entry.Elapsed = result.Elapsed
	s.record(ctx, entry)
	fmt.Printf("ok, %d rows affected (%.1f ms)\n", result.RowsAffected, float64(result.Elapsed.Microseconds())/1000)
}

func (s *shell) record(ctx context.Context, entry history.Entry) {
	_, _ = s.history.Record(ctx, entry)
}

func (s *shell) openPages(ctx context.Context, sqlText string) {
	if sqlText == "" {
		fmt.Println(`usage: \pages <sql>`)
		return
	}

	p, err := paginate.New(s.engine, sqlText, s.cfg.Pagination.DefaultPageSize)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	s.paginator = p
	s.unfiltered = p
	s.page = 0
	s.showPage(ctx, 0)
}

func (s *shell) showPage(ctx context.Context, n int) {
	if s.paginator == nil {
		fmt.Println(`no paging session, use \pages <sql>`)
		return
	}

	page, err := s.paginator.FetchPage(ctx, n)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	s.page = n

	printTable(page.Columns, page.Rows)
	fmt.Printf("page %d of %d, rows %d-%d of %d\n",
		page.Info.PageNumber+1, page.Info.TotalPages,
		page.Info.StartRow+1, page.Info.EndRow+1, page.Info.TotalRows)
}

func (s *shell) applyFilter(ctx context.Context, rest string) {
	if s.unfiltered == nil {
		fmt.Println(`no paging session, use \pages <sql>`)
		return
	}

	spec := filter.Spec{}
	fields := strings.Fields(rest)
	switch len(fields) {
	case 0:
	case 1:
		spec.Pattern = fields[0]
	default:
		spec.Column = fields[0]
		spec.Pattern = strings.Join(fields[1:], " ")
	}

	filtered, err := s.filters.Apply(ctx, s.unfiltered, spec)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	s.paginator = filtered
	s.page = 0

	total, err := filtered.TotalRows(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if spec.Pattern == "" {
		fmt.Printf("filter cleared, %d rows\n", total)
	} else {
		fmt.Printf("%d rows match\n", total)
	}
	if total > 0 {
		s.showPage(ctx, 0)
	}
}

func (s *shell) showMetrics(ctx context.Context, sqlText string) {
	if sqlText == "" {
		if s.paginator == nil {
			fmt.Println(`usage: \metrics <sql>`)
			return
		}
		sqlText = s.paginator.BaseSQL()
	}

	report, err := s.collector.Compute(ctx, sqlText)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("%d rows, %d columns, ~%s in memory (%.1f ms)\n",
		report.RowCount, report.ColumnCount,
		formatBytes(report.MemoryEstimateBytes),
		float64(report.Elapsed.Microseconds())/1000)
	for _, col := range report.Columns {
		fmt.Printf("  %s (%s): %d null (%.1f%%), %d distinct (%.1f%%)\n",
			col.Name, col.DeclaredType, col.NullCount, col.NullPct, col.DistinctCount, col.DistinctPct)
		if col.Min != nil && col.Max != nil && col.Mean != nil {
			fmt.Printf("    min %g  max %g  mean %g\n", *col.Min, *col.Max, *col.Mean)
		}
		if col.MinLen != nil && col.MaxLen != nil && col.AvgLen != nil {
			fmt.Printf("    length min %d  max %d  avg %.1f\n", *col.MinLen, *col.MaxLen, *col.AvgLen)
		}
		if col.MinTime != nil && col.MaxTime != nil {
			fmt.Printf("    range %s to %s\n", *col.MinTime, *col.MaxTime)
		}
		if len(col.SampleValues) > 0 {
			fmt.Printf("    samples: %s\n", strings.Join(col.SampleValues, ", "))
		}
	}
}

func (s *shell) showHistory(ctx context.Context, term string) {
	var (
		entries []history.Entry
		err     error
	)
	if term == "" {
		entries, err = s.history.List(ctx, 20)
	} else {
		entries, err = s.history.Search(ctx, term, 20)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Printf("%s  %-6s  %s\n", e.ExecutedAt.Format("2006-01-02 15:04:05"), status, truncate(e.SQL, 80))
	}
}

func printTable(columns []engine.Column, rows []engine.Row) {
	if len(columns) == 0 {
		return
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col.Name)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for c := range columns {
			v := ""
			if c < len(row) {
				v = truncate(row[c].String(), maxCellWidth)
			}
			cells[r][c] = v
			if len(v) > widths[c] {
				widths[c] = len(v)
			}
		}
	}

	var b strings.Builder
	for i, col := range columns {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%-*s", widths[i], col.Name)
	}
	fmt.Println(b.String())
	for _, row := range cells {
		b.Reset()
		for i, v := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			fmt.Fprintf(&b, "%-*s", widths[i], v)
		}
		fmt.Println(b.String())
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
