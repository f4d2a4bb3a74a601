package sqlsplit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "two statements",
			script: "SELECT 1; SELECT 2",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "trailing semicolon and blanks",
			script: "SELECT 1; ; ;",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "semicolon inside string literal",
			script: "SELECT 'a;b'; SELECT 2",
			want:   []string{"SELECT 'a;b'", "SELECT 2"},
		},
		{
			name:   "semicolon inside quoted identifier",
			script: `SELECT "odd;name" FROM t; SELECT 2`,
			want:   []string{`SELECT "odd;name" FROM t`, "SELECT 2"},
		},
		{
			name:   "doubled quote escape",
			script: "SELECT 'it''s; fine'; SELECT 2",
			want:   []string{"SELECT 'it''s; fine'", "SELECT 2"},
		},
		{
			name:   "line comment swallows semicolon",
			script: "SELECT 1 -- trailing; comment\n; SELECT 2",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "block comment swallows semicolon",
			script: "SELECT /* not; here */ 1; SELECT 2",
			want:   []string{"SELECT   1", "SELECT 2"},
		},
		{
			name:   "empty script",
			script: "  \n ",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, stmt := range Split(tt.script) {
				got = append(got, stmt.SQL)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Split() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sql  string
		want StatementKind
	}{
		{"SELECT 1", KindQuery},
		{"select * from t", KindQuery},
		{"WITH x AS (SELECT 1) SELECT * FROM x", KindQuery},
		{"SELECT 1 UNION SELECT 2", KindQuery},
		{"SHOW TABLES", KindQuery},
		{"DESCRIBE t", KindQuery},
		{"EXPLAIN SELECT 1", KindQuery},
		{"SUMMARIZE t", KindQuery},
		{"PRAGMA database_list", KindQuery},
		{"FROM t SELECT id", KindQuery},
		{"INSERT INTO t VALUES (1)", KindExec},
		{"UPDATE t SET a = 1", KindExec},
		{"DELETE FROM t", KindExec},
		{"CREATE TABLE t (id INTEGER)", KindExec},
		{"DROP TABLE t", KindExec},
		{"SET threads = 4", KindExec},
		{"BEGIN TRANSACTION", KindExec},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			if got := Classify(tt.sql); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.sql, got, tt.want)
			}
		})
	}
}
