// Package connection owns the shared DuckDB handle and its serialization.
package connection

import (
	"context"
	"database/sql"
	"sync"
)

// Manager wraps the single DuckDB connection shared by every component.
// Serialization lives here at the connection boundary: every call goes
// through one mutex, so concurrent callers cannot interleave statements on
// the connection.
type Manager struct {
	db *sql.DB
	mu sync.Mutex
}

// NewManager creates a manager for the given database. The pool is pinned
// to a single connection so that statements observe one session.
func NewManager(db *sql.DB) *Manager {
	db.SetMaxOpenConns(1)
	return &Manager{db: db}
}

// Query executes a row-returning statement.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a statement expected to return at most one row.
func (m *Manager) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.QueryRowContext(ctx, query, args...)
}

// Exec executes a non-row statement.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.ExecContext(ctx, query, args...)
}

// Close closes the underlying database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// DB returns the underlying handle, for callers that need to tune pool
// parameters.
func (m *Manager) DB() *sql.DB {
	return m.db
}
