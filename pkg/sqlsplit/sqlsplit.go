// Package sqlsplit splits SQL scripts into statements and classifies them
// as row-returning or not. Classification parses the statement when the
// parser accepts it and falls back to keyword inspection for dialect the
// parser does not know.
package sqlsplit

import (
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// StatementKind is the execution category of a statement.
type StatementKind int

// Statement kinds.
const (
	KindQuery StatementKind = iota // returns rows: SELECT, WITH, SHOW, DESCRIBE, ...
	KindExec                       // everything else: DML, DDL, transaction control
)

// Statement is one statement extracted from a script.
type Statement struct {
	SQL  string
	Kind StatementKind
}

// Split breaks a script into its statements, honoring string literals,
// quoted identifiers, and both comment forms, so semicolons inside them do
// not split. Empty statements are dropped.
func Split(script string) []Statement {
	var statements []Statement
	var current strings.Builder

	flush := func() {
		sql := strings.TrimSpace(current.String())
		current.Reset()
		if sql == "" {
			return
		}
		statements = append(statements, Statement{SQL: sql, Kind: Classify(sql)})
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch c {
		case '\'', '"':
			// Quoted region; doubled quotes escape inside it.
			quote := c
			current.WriteRune(c)
			for i++; i < len(runes); i++ {
				current.WriteRune(runes[i])
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						i++
						current.WriteRune(runes[i])
						continue
					}
					break
				}
			}
		case '-':
			if i+1 < len(runes) && runes[i+1] == '-' {
				for ; i < len(runes) && runes[i] != '\n'; i++ {
				}
				current.WriteRune('\n')
				continue
			}
			current.WriteRune(c)
		case '/':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for ; i+1 < len(runes); i++ {
					if runes[i] == '*' && runes[i+1] == '/' {
						i++
						break
					}
				}
				current.WriteRune(' ')
				continue
			}
			current.WriteRune(c)
		case ';':
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()

	return statements
}

// queryPrefixes are leading keywords of row-returning statements the parser
// may reject (engine dialect) or that need no parse to recognize.
var queryPrefixes = []string{
	"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC ", "EXPLAIN",
	"PRAGMA", "SUMMARIZE", "VALUES", "FROM", "CALL", "TABLE ",
}

// Classify reports whether a statement returns rows. The parsed AST decides
// when parsing succeeds; otherwise the leading keyword does.
func Classify(sql string) StatementKind {
	stmt, err := sqlparser.Parse(sql)
	if err == nil {
		switch stmt.(type) {
		case *sqlparser.Select, *sqlparser.Union, *sqlparser.Show:
			return KindQuery
		case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete:
			return KindExec
		}
		// Fall through for statement types the AST models but the
		// keyword check handles more precisely (DDL, SET, ...).
	}

	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, prefix := range queryPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return KindQuery
		}
	}
	return KindExec
}
