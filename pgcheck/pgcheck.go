// Package pgcheck validates generated DDL with the PostgreSQL parser
// before it is sent to a database. Procedure bodies are also parsed as
// PL/pgSQL.
package pgcheck

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/pganalyze/pg_query_go/v6/parser"
)

// ErrSyntax is wrapped by SyntaxError.
var ErrSyntax = errors.New("invalid PostgreSQL syntax")

// SyntaxError reports where the parser rejected a script.
type SyntaxError struct {
	Object  string
	Message string
	Line    int // 1-indexed, 0 when unknown
	Near    string
}

func (e *SyntaxError) Error() string {
	var sb strings.Builder
	if e.Object != "" {
		sb.WriteString(e.Object + ": ")
	}
	sb.WriteString(e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&sb, " at line %d", e.Line)
	}
	if e.Near != "" {
		fmt.Fprintf(&sb, " near %q", e.Near)
	}
	return sb.String()
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// Check parses ddl and returns a *SyntaxError for the first problem found.
func Check(object, ddl string) error {
	result, err := pg_query.Parse(ddl)
	if err != nil {
		return syntaxError(object, ddl, err)
	}
	for _, raw := range result.Stmts {
		fn := raw.GetStmt().GetCreateFunctionStmt()
		if fn == nil || !isPLpgSQL(fn) {
			continue
		}
		stmt := statementText(ddl, raw)
		if _, err := pg_query.ParsePlPgSqlToJSON(stmt); err != nil {
			serr := syntaxError(object, stmt, err)
			if serr.Line > 0 {
				serr.Line += strings.Count(ddl[:int(raw.StmtLocation)], "\n")
			}
			return serr
		}
	}
	return nil
}

// Statements returns the node type of every statement in ddl, such as
// "CreateStmt" or "ViewStmt".
func Statements(ddl string) ([]string, error) {
	result, err := pg_query.Parse(ddl)
	if err != nil {
		return nil, syntaxError("", ddl, err)
	}
	kinds := make([]string, 0, len(result.Stmts))
	for _, raw := range result.Stmts {
		kinds = append(kinds, nodeKind(raw.GetStmt()))
	}
	return kinds, nil
}

func nodeKind(n *pg_query.Node) string {
	switch {
	case n.GetCreateStmt() != nil:
		return "CreateStmt"
	case n.GetViewStmt() != nil:
		return "ViewStmt"
	case n.GetCreateFunctionStmt() != nil:
		if n.GetCreateFunctionStmt().GetIsProcedure() {
			return "CreateProcedureStmt"
		}
		return "CreateFunctionStmt"
	case n.GetDoStmt() != nil:
		return "DoStmt"
	case n.GetDropStmt() != nil:
		return "DropStmt"
	case n.GetIndexStmt() != nil:
		return "IndexStmt"
	case n.GetAlterTableStmt() != nil:
		return "AlterTableStmt"
	}
	return "Other"
}

func isPLpgSQL(fn *pg_query.CreateFunctionStmt) bool {
	for _, opt := range fn.GetOptions() {
		def := opt.GetDefElem()
		if def == nil || def.GetDefname() != "language" {
			continue
		}
		return strings.EqualFold(def.GetArg().GetString_().GetSval(), "plpgsql")
	}
	return false
}

// statementText cuts one statement out of the script.
func statementText(ddl string, raw *pg_query.RawStmt) string {
	start := int(raw.GetStmtLocation())
	end := len(ddl)
	if n := int(raw.GetStmtLen()); n > 0 && start+n <= len(ddl) {
		end = start + n
	}
	return ddl[start:end]
}

func syntaxError(object, src string, err error) *SyntaxError {
	serr := &SyntaxError{Object: object, Message: err.Error()}
	var perr *parser.Error
	if errors.As(err, &perr) {
		serr.Message = perr.Message
		if pos := perr.Cursorpos; pos > 0 && pos <= len(src) {
			serr.Line = strings.Count(src[:pos-1], "\n") + 1
			serr.Near = nearText(src[pos-1:])
		}
	}
	return serr
}

// nearText returns the first word of s.
func nearText(s string) string {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t\r\n;"); i > 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
