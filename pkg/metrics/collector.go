// Package metrics computes descriptive statistics over fully materialized
// query results.
package metrics

import (
	"context"
	"time"

	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/server/apierror"
)

// Per-kind cell size heuristics for the memory estimate, in bytes.
const (
	cellOverheadBytes = 16
	numericCellBytes  = 8
	timestampBytes    = 24
)

// ColumnReport holds the statistics of one column. Numeric aggregates are
// present only for numeric kinds, length statistics only for text, and
// time bounds only for timestamps. Nulls are excluded from distinct counts.
type ColumnReport struct {
	Name          string   `json:"name"`
	DeclaredType  string   `json:"declared_type"`
	NullCount     int64    `json:"null_count"`
	NullPct       float64  `json:"null_percentage"`
	DistinctCount int64    `json:"distinct_count"`
	DistinctPct   float64  `json:"distinct_percentage"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	Mean          *float64 `json:"mean,omitempty"`
	MinLen        *int     `json:"min_length,omitempty"`
	MaxLen        *int     `json:"max_length,omitempty"`
	AvgLen        *float64 `json:"avg_length,omitempty"`
	MinTime       *string  `json:"min_time,omitempty"`
	MaxTime       *string  `json:"max_time,omitempty"`
	SampleValues  []string `json:"sample_values"`
}

// Report is the full metrics report of one query result.
type Report struct {
	RowCount            int64          `json:"row_count"`
	ColumnCount         int            `json:"column_count"`
	MemoryEstimateBytes int64          `json:"memory_estimate_bytes"`
	Elapsed             time.Duration  `json:"-"`
	Columns             []ColumnReport `json:"columns"`
}

// Collector materializes queries and computes per-column statistics. The
// row cap bounds memory: results above it fail with a resource error
// before any materialization.
type Collector struct {
	engine       *engine.Engine
	maxRows      int64
	sampleValues int
}

// NewCollector creates a collector with the given materialization cap and
// per-column sample value limit.
func NewCollector(eng *engine.Engine, maxRows int64, sampleValues int) *Collector {
	return &Collector{engine: eng, maxRows: maxRows, sampleValues: sampleValues}
}

// Compute fully materializes the query (no LIMIT) and computes aggregates.
// Reports are never cached; callers re-run Compute for fresh numbers.
func (c *Collector) Compute(ctx context.Context, sqlText string) (*Report, error) {
	start := time.Now()

	total, err := c.engine.CountRows(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	if c.maxRows > 0 && total > c.maxRows {
		return nil, apierror.NewResourceError(total, c.maxRows)
	}

	result, err := c.engine.Execute(ctx, engine.Normalize(sqlText))
	if err != nil {
		return nil, err
	}

	report := &Report{
		RowCount:    result.RowCount(),
		ColumnCount: len(result.Columns),
		Columns:     make([]ColumnReport, len(result.Columns)),
	}
	for i, col := range result.Columns {
		report.Columns[i] = c.analyzeColumn(col, result.Rows, i)
	}
	report.MemoryEstimateBytes = estimateMemory(result)
	report.Elapsed = time.Since(start)
	return report, nil
}

// analyzeColumn walks one column of the materialized rows.
func (c *Collector) analyzeColumn(col engine.Column, rows []engine.Row, idx int) ColumnReport {
	report := ColumnReport{
		Name:         col.Name,
		DeclaredType: col.DeclaredType,
		SampleValues: []string{},
	}

	rowCount := int64(len(rows))
	distinct := make(map[string]struct{})

	var (
		sum              float64
		numericSeen      int64
		minNum, maxNum   float64
		lenSum           int
		lenSeen          int64
		minLen, maxLen   int
		minTime, maxTime time.Time
		timeSeen         bool
	)

	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		v := row[idx]
		if v.IsNull() {
			report.NullCount++
			continue
		}

		key := v.String()
		if _, seen := distinct[key]; !seen {
			distinct[key] = struct{}{}
			if len(report.SampleValues) < c.sampleValues {
				report.SampleValues = append(report.SampleValues, key)
			}
		}

		switch {
		case v.Kind().IsNumeric():
			f := v.Float64()
			if numericSeen == 0 || f < minNum {
				minNum = f
			}
			if numericSeen == 0 || f > maxNum {
				maxNum = f
			}
			sum += f
			numericSeen++
		case v.Kind().IsTextual():
			l := len(key)
			if lenSeen == 0 || l < minLen {
				minLen = l
			}
			if lenSeen == 0 || l > maxLen {
				maxLen = l
			}
			lenSum += l
			lenSeen++
		case v.Kind().IsTemporal():
			t := v.Time()
			if !timeSeen || t.Before(minTime) {
				minTime = t
			}
			if !timeSeen || t.After(maxTime) {
				maxTime = t
			}
			timeSeen = true
		}
	}

	report.DistinctCount = int64(len(distinct))
	if rowCount > 0 {
		report.NullPct = float64(report.NullCount) / float64(rowCount) * 100
		report.DistinctPct = float64(report.DistinctCount) / float64(rowCount) * 100
	}

	if numericSeen > 0 {
		mean := sum / float64(numericSeen)
		report.Min, report.Max, report.Mean = &minNum, &maxNum, &mean
	}
	if lenSeen > 0 {
		avg := float64(lenSum) / float64(lenSeen)
		report.MinLen, report.MaxLen, report.AvgLen = &minLen, &maxLen, &avg
	}
	if timeSeen {
		lo := minTime.Format("2006-01-02 15:04:05.999999")
		hi := maxTime.Format("2006-01-02 15:04:05.999999")
		report.MinTime, report.MaxTime = &lo, &hi
	}
	return report
}

// estimateMemory sums per-cell size heuristics over the result.
func estimateMemory(result *engine.Result) int64 {
	var total int64
	for _, row := range result.Rows {
		for _, v := range row {
			total += cellOverheadBytes
			switch v.Kind() {
			case engine.KindInteger, engine.KindFloat, engine.KindBoolean:
				total += numericCellBytes
			case engine.KindTimestamp:
				total += timestampBytes
			case engine.KindText:
				total += int64(len(v.String()))
			case engine.KindBytes:
				total += int64(len(v.Raw()))
			}
		}
	}
	return total
}
