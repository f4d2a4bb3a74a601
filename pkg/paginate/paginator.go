// Package paginate converts one query into deterministic, windowed pages.
package paginate

import (
	"context"
	"fmt"
	"sync"

	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/server/apierror"
)

// cacheLimit is how many fetched pages are kept. When full, the cached page
// furthest from the one being loaded is evicted.
const cacheLimit = 5

// PageInfo describes one page's position in the result set.
type PageInfo struct {
	PageNumber  int   `json:"page_number"`
	PageSize    int   `json:"page_size"`
	TotalRows   int64 `json:"total_rows"`
	TotalPages  int   `json:"total_pages"`
	StartRow    int64 `json:"start_row"`
	EndRow      int64 `json:"end_row"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

// InfoFor computes page metadata for a page number, page size, and total.
func InfoFor(pageNumber, pageSize int, totalRows int64) PageInfo {
	totalPages := int((totalRows + int64(pageSize) - 1) / int64(pageSize))
	startRow := int64(pageNumber) * int64(pageSize)
	endRow := startRow + int64(pageSize) - 1
	if endRow > totalRows-1 {
		endRow = totalRows - 1
	}

	return PageInfo{
		PageNumber:  pageNumber,
		PageSize:    pageSize,
		TotalRows:   totalRows,
		TotalPages:  totalPages,
		StartRow:    startRow,
		EndRow:      endRow,
		HasPrevious: pageNumber > 0,
		HasNext:     pageNumber < totalPages-1,
	}
}

// Page is one windowed slice of a query result: its metadata, the ordered
// column schema, and the materialized rows. Pages returned from the cache
// are shared; callers must not mutate them.
type Page struct {
	Info    PageInfo        `json:"info"`
	Columns []engine.Column `json:"columns"`
	Rows    []engine.Row    `json:"rows"`
}

// Paginator wraps one query and serves it as deterministic pages. The total
// row count is one query, each window another; there is no snapshot between
// them, so a dataset that mutates underneath can skew page boundaries until
// Invalidate is called. Unordered base queries may also yield inconsistent
// windows, since the engine is free to reorder an unordered scan and no
// tiebreaker is synthesized.
type Paginator struct {
	engine   *engine.Engine
	baseSQL  string
	pageSize int

	mu        sync.Mutex
	totalRows int64
	counted   bool
	cache     map[int]*Page
}

// New creates a paginator for the given query and page size.
func New(eng *engine.Engine, sqlText string, pageSize int) (*Paginator, error) {
	if pageSize <= 0 {
		return nil, apierror.NewInvalidParameterError("page_size", "must be positive")
	}
	return &Paginator{
		engine:   eng,
		baseSQL:  engine.Normalize(sqlText),
		pageSize: pageSize,
		cache:    make(map[int]*Page),
	}, nil
}

// BaseSQL returns the normalized query being paged.
func (p *Paginator) BaseSQL() string {
	return p.baseSQL
}

// PageSize returns the current page size.
func (p *Paginator) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageSize
}

// TotalRows returns the result's total row count, computing and caching it
// on first use.
func (p *Paginator) TotalRows(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalRowsLocked(ctx)
}

func (p *Paginator) totalRowsLocked(ctx context.Context) (int64, error) {
	if p.counted {
		return p.totalRows, nil
	}
	total, err := p.engine.CountRows(ctx, p.baseSQL)
	if err != nil {
		return 0, err
	}
	p.totalRows = total
	p.counted = true
	return total, nil
}

// TotalPages returns the page count for the current page size.
func (p *Paginator) TotalPages(ctx context.Context) (int, error) {
	total, err := p.TotalRows(ctx)
	if err != nil {
		return 0, err
	}
	return int((total + int64(p.PageSize()) - 1) / int64(p.PageSize())), nil
}

// FetchPage returns page n, from cache when available. Page numbers outside
// [0, total_pages) fail with a range error; with zero total rows every page
// number is out of range.
func (p *Paginator) FetchPage(ctx context.Context, n int) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total, err := p.totalRowsLocked(ctx)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(p.pageSize) - 1) / int64(p.pageSize))
	if n < 0 || n >= totalPages {
		return nil, apierror.NewRangeError(n, totalPages)
	}

	if page, ok := p.cache[n]; ok {
		return page, nil
	}

	offset := int64(n) * int64(p.pageSize)
	windowSQL := fmt.Sprintf("SELECT * FROM (%s) AS page_query LIMIT %d OFFSET %d",
		p.baseSQL, p.pageSize, offset)

	result, err := p.engine.Execute(ctx, windowSQL)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Info:    InfoFor(n, p.pageSize, total),
		Columns: result.Columns,
		Rows:    result.Rows,
	}
	p.cachePage(n, page)
	return page, nil
}

// cachePage stores a page, evicting the cached page furthest from the one
// just loaded once the cache is full.
func (p *Paginator) cachePage(n int, page *Page) {
	if len(p.cache) >= cacheLimit {
		furthest, distance := -1, -1
		for cached := range p.cache {
			d := cached - n
			if d < 0 {
				d = -d
			}
			if d > distance {
				furthest, distance = cached, d
			}
		}
		if furthest >= 0 {
			delete(p.cache, furthest)
		}
	}
	p.cache[n] = page
}

// SetPageSize changes the page size and drops all cached state.
func (p *Paginator) SetPageSize(size int) error {
	if size <= 0 {
		return apierror.NewInvalidParameterError("page_size", "must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageSize = size
	p.invalidateLocked()
	return nil
}

// Invalidate drops the cached total and every cached page. Call it after
// the underlying data may have changed.
func (p *Paginator) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateLocked()
}

func (p *Paginator) invalidateLocked() {
	p.counted = false
	p.totalRows = 0
	p.cache = make(map[int]*Page)
}

// ForEachPage fetches every page in order and hands it to fn, stopping on
// the first error. With zero total rows fn is never called.
func (p *Paginator) ForEachPage(ctx context.Context, fn func(*Page) error) error {
	totalPages, err := p.TotalPages(ctx)
	if err != nil {
		return err
	}
	for n := 0; n < totalPages; n++ {
		page, err := p.FetchPage(ctx, n)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}
