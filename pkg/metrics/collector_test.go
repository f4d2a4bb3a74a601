package metrics

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/localsql/explorer/pkg/connection"
	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/server/apierror"
)

// setupTestEngine creates an engine over an in-memory DuckDB.
func setupTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("failed to open DuckDB: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close DB: %v", err)
		}
	})

	return engine.New(connection.NewManager(db))
}

func TestCollector_Compute_Numeric(t *testing.T) {
	eng := setupTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Exec(ctx, "CREATE TABLE nums (v INTEGER)"); err != nil {
		t.Fatalf("create table error = %v", err)
	}
	if _, err := eng.Exec(ctx, "INSERT INTO nums VALUES (1), (2), (NULL), (4)"); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	report, err := NewCollector(eng, 0, 5).Compute(ctx, "SELECT v FROM nums ORDER BY v")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if report.RowCount != 4 {
		t.Fatalf("RowCount = %d, want 4", report.RowCount)
	}
	if report.ColumnCount != 1 {
		t.Fatalf("ColumnCount = %d, want 1", report.ColumnCount)
	}

	col := report.Columns[0]
	if col.NullCount != 1 {
		t.Errorf("NullCount = %d, want 1", col.NullCount)
	}
	if col.NullPct != 25.0 {
		t.Errorf("NullPct = %v, want 25.0", col.NullPct)
	}
	if col.DistinctCount != 3 {
		t.Errorf("DistinctCount = %d, want 3 (nulls excluded)", col.DistinctCount)
	}
	if col.DistinctPct != 75.0 {
		t.Errorf("DistinctPct = %v, want 75.0", col.DistinctPct)
	}

	if col.Min == nil || col.Max == nil || col.Mean == nil {
		t.Fatal("numeric aggregates missing")
	}
	if *col.Min != 1 {
		t.Errorf("Min = %v, want 1", *col.Min)
	}
	if *col.Max != 4 {
		t.Errorf("Max = %v, want 4", *col.Max)
	}
	if want := (1.0 + 2.0 + 4.0) / 3.0; *col.Mean != want {
		t.Errorf("Mean = %v, want %v", *col.Mean, want)
	}
	if col.MinLen != nil || col.MinTime != nil {
		t.Error("non-numeric aggregates must be absent for an integer column")
	}
}

func TestCollector_Compute_Text(t *testing.T) {
	eng := setupTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Exec(ctx, "CREATE TABLE words (w VARCHAR)"); err != nil {
		t.Fatalf("create table error = %v", err)
	}
	if _, err := eng.Exec(ctx, "INSERT INTO words VALUES ('a'), ('abc'), ('abcde'), ('abc')"); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	report, err := NewCollector(eng, 0, 2).Compute(ctx, "SELECT w FROM words ORDER BY w")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	col := report.Columns[0]
	if col.DistinctCount != 3 {
		t.Errorf("DistinctCount = %d, want 3", col.DistinctCount)
	}
	if col.MinLen == nil || col.MaxLen == nil || col.AvgLen == nil {
		t.Fatal("length aggregates missing")
	}
	if *col.MinLen != 1 {
		t.Errorf("MinLen = %d, want 1", *col.MinLen)
	}
	if *col.MaxLen != 5 {
		t.Errorf("MaxLen = %d, want 5", *col.MaxLen)
	}
	if want := (1 + 3 + 5 + 3) / 4.0; *col.AvgLen != want {
		t.Errorf("AvgLen = %v, want %v", *col.AvgLen, want)
	}

	// Samples are first-seen distinct values, capped at the configured count.
	if len(col.SampleValues) != 2 {
		t.Fatalf("SampleValues = %v, want 2 values", col.SampleValues)
	}
	if col.SampleValues[0] != "a" || col.SampleValues[1] != "abc" {
		t.Errorf("SampleValues = %v, want [a abc]", col.SampleValues)
	}
}

func TestCollector_Compute_Timestamps(t *testing.T) {
	eng := setupTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Exec(ctx, "CREATE TABLE events (\"at\" TIMESTAMP)"); err != nil {
		t.Fatalf("create table error = %v", err)
	}
	if _, err := eng.Exec(ctx, "INSERT INTO events VALUES ('2024-01-02 03:04:05'), ('2025-06-07 08:09:10')"); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	report, err := NewCollector(eng, 0, 5).Compute(ctx, "SELECT \"at\" FROM events")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	col := report.Columns[0]
	if col.MinTime == nil || col.MaxTime == nil {
		t.Fatal("time bounds missing")
	}
	if *col.MinTime != "2024-01-02 03:04:05" {
		t.Errorf("MinTime = %q, want 2024-01-02 03:04:05", *col.MinTime)
	}
	if *col.MaxTime != "2025-06-07 08:09:10" {
		t.Errorf("MaxTime = %q, want 2025-06-07 08:09:10", *col.MaxTime)
	}
}

func TestCollector_Compute_RowCap(t *testing.T) {
	eng := setupTestEngine(t)
	ctx := context.Background()

	collector := NewCollector(eng, 100, 5)
	_, err := collector.Compute(ctx, "SELECT * FROM range(101)")
	if !apierror.IsCode(err, apierror.CodeResource) {
		t.Fatalf("Compute() error = %v, want resource error", err)
	}

	// At the cap exactly the computation proceeds.
	report, err := collector.Compute(ctx, "SELECT * FROM range(100)")
	if err != nil {
		t.Fatalf("Compute() at cap error = %v", err)
	}
	if report.RowCount != 100 {
		t.Errorf("RowCount = %d, want 100", report.RowCount)
	}
}

func TestCollector_Compute_EmptyResult(t *testing.T) {
	eng := setupTestEngine(t)
	ctx := context.Background()

	report, err := NewCollector(eng, 0, 5).Compute(ctx, "SELECT 1 AS v WHERE false")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if report.RowCount != 0 {
		t.Errorf("RowCount = %d, want 0", report.RowCount)
	}

	col := report.Columns[0]
	if col.NullPct != 0 || col.DistinctPct != 0 {
		t.Errorf("percentages for empty result = %v/%v, want 0/0", col.NullPct, col.DistinctPct)
	}
	if len(col.SampleValues) != 0 {
		t.Errorf("SampleValues = %v, want empty", col.SampleValues)
	}

	if report.MemoryEstimateBytes != 0 {
		t.Errorf("MemoryEstimateBytes = %d, want 0", report.MemoryEstimateBytes)
	}
}
