// Package history persists executed statements in the embedded database so
// sessions can recall, search, and favorite past queries.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/localsql/explorer/pkg/connection"
	"github.com/localsql/explorer/server/apierror"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS explorer_query_history (
	id            VARCHAR PRIMARY KEY,
	sql_text      VARCHAR NOT NULL,
	executed_at   TIMESTAMP NOT NULL,
	elapsed_ms    DOUBLE NOT NULL,
	row_count     BIGINT NOT NULL,
	success       BOOLEAN NOT NULL,
	error_message VARCHAR,
	favorite      BOOLEAN NOT NULL DEFAULT FALSE
)`

// Entry is one recorded execution.
type Entry struct {
	ID         string        `json:"id"`
	SQL        string        `json:"sql"`
	ExecutedAt time.Time     `json:"executed_at"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMS  float64       `json:"elapsed_ms"`
	RowCount   int64         `json:"row_count"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Favorite   bool          `json:"favorite"`
}

// Store records and retrieves query history.
type Store struct {
	mgr *connection.Manager
}

// NewStore creates the store, creating its table when missing.
func NewStore(ctx context.Context, mgr *connection.Manager) (*Store, error) {
	if _, err := mgr.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &Store{mgr: mgr}, nil
}

// Record persists one execution. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}
	entry.ElapsedMS = float64(entry.Elapsed) / float64(time.Millisecond)

	var errMsg any
	if entry.Error != "" {
		errMsg = entry.Error
	}

	_, err := s.mgr.Exec(ctx,
		`INSERT INTO explorer_query_history
			(id, sql_text, executed_at, elapsed_ms, row_count, success, error_message, favorite)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SQL, entry.ExecutedAt, entry.ElapsedMS,
		entry.RowCount, entry.Success, errMsg, entry.Favorite)
	if err != nil {
		return Entry{}, fmt.Errorf("record history entry: %w", err)
	}
	return entry, nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, sql_text, executed_at, elapsed_ms, row_count, success, error_message, favorite
		 FROM explorer_query_history
		 ORDER BY executed_at DESC, id
		 LIMIT ?`, limit)
}

// Search returns entries whose SQL contains the term, case-insensitive,
// newest first.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, sql_text, executed_at, elapsed_ms, row_count, success, error_message, favorite
		 FROM explorer_query_history
		 WHERE sql_text ILIKE '%' || ? || '%'
		 ORDER BY executed_at DESC, id
		 LIMIT ?`, term, limit)
}

// Favorites returns favorite entries, newest first.
func (s *Store) Favorites(ctx context.Context) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, sql_text, executed_at, elapsed_ms, row_count, success, error_message, favorite
		 FROM explorer_query_history
		 WHERE favorite
		 ORDER BY executed_at DESC, id`)
}

// SetFavorite toggles the favorite flag of an entry.
func (s *Store) SetFavorite(ctx context.Context, id string, favorite bool) error {
	res, err := s.mgr.Exec(ctx,
		`UPDATE explorer_query_history SET favorite = ? WHERE id = ?`, favorite, id)
	if err != nil {
		return fmt.Errorf("update favorite: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return apierror.NewNotFoundError("history entry", id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, sqlText string, args ...any) ([]Entry, error) {
	rows, err := s.mgr.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			errMsg *string
		)
		if err := rows.Scan(&e.ID, &e.SQL, &e.ExecutedAt, &e.ElapsedMS,
			&e.RowCount, &e.Success, &errMsg, &e.Favorite); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if errMsg != nil {
			e.Error = *errMsg
		}
		e.Elapsed = time.Duration(e.ElapsedMS * float64(time.Millisecond))
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}
	return entries, nil
}
