package transpiler

import (
	"fmt"
	"strings"
)

// Condition is a recognized IF condition shape. The set of implementations
// is closed; each one renders its own PostgreSQL condition text.
type Condition interface {
	SQL() string
	condition()
}

func notPrefix(not bool) string {
	if not {
		return "NOT "
	}
	return ""
}

func nullTest(missing bool) string {
	if missing {
		return "IS NULL"
	}
	return "IS NOT NULL"
}

// OverrideCondition is a configured literal replacement.
type OverrideCondition struct {
	Text string
}

func (c OverrideCondition) SQL() string { return c.Text }

// ColumnExistsCondition tests for a column, optionally with a character
// length comparison.
type ColumnExistsCondition struct {
	Not       bool
	Table     string
	Column    string
	LengthOp  string // empty when no length test
	LengthVal string
}

func (c ColumnExistsCondition) SQL() string {
	var length string
	if c.LengthOp != "" {
		length = fmt.Sprintf(" AND character_maximum_length %s %s", c.LengthOp, c.LengthVal)
	}
	return fmt.Sprintf("%sEXISTS ( SELECT 1 FROM information_schema.columns WHERE table_name = %s AND column_name = %s%s)",
		notPrefix(c.Not), quoteString(c.Table), quoteString(c.Column), length)
}

// TempTableCondition tests for a session temp table.
type TempTableCondition struct {
	Name    string
	Missing bool
}

func (c TempTableCondition) SQL() string {
	return fmt.Sprintf("to_regclass(%s) %s", quoteString("pg_temp."+c.Name), nullTest(c.Missing))
}

// RelationCondition tests for a table or view.
type RelationCondition struct {
	Name    string
	Missing bool
}

func (c RelationCondition) SQL() string {
	return fmt.Sprintf("to_regclass(%s) %s", quoteString(c.Name), nullTest(c.Missing))
}

// ProcedureCondition tests for a procedure or function.
type ProcedureCondition struct {
	Not  bool
	Name string
}

func (c ProcedureCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT 1 FROM pg_proc WHERE proname = %s)", notPrefix(c.Not), quoteString(c.Name))
}

// ConstraintCondition tests for a named constraint.
type ConstraintCondition struct {
	Not  bool
	Name string
}

func (c ConstraintCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT 1 FROM pg_constraint WHERE conname = %s)", notPrefix(c.Not), quoteString(c.Name))
}

// SchemaCondition tests for a schema.
type SchemaCondition struct {
	Not  bool
	Name string
}

func (c SchemaCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = %s)", notPrefix(c.Not), quoteString(c.Name))
}

// IndexCondition tests for an index by name.
type IndexCondition struct {
	Not  bool
	Name string
}

func (c IndexCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT * FROM pg_class WHERE relname=%s AND relkind='i' LIMIT 1)", notPrefix(c.Not), quoteString(c.Name))
}

// PrimaryKeyCondition tests whether a table has a primary key.
type PrimaryKeyCondition struct {
	Not   bool
	Table string
}

func (c PrimaryKeyCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT 1 FROM pg_constraint con JOIN pg_class rel ON rel.oid = con.conrelid WHERE rel.relname = %s AND con.contype = 'p')",
		notPrefix(c.Not), quoteString(c.Table))
}

// RowValuesCondition is a multi-column row lookup rendered with the table
// and column names as written.
type RowValuesCondition struct {
	Not   bool
	Table string
	Terms []string // "col = value"
}

func (c RowValuesCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT * FROM %s WHERE %s)", notPrefix(c.Not), c.Table, strings.Join(c.Terms, " AND "))
}

// RowCondition is a single-column row lookup.
type RowCondition struct {
	Not    bool
	Table  string
	Column string
	Value  string // rendered value: quoted literal or variable name
}

func (c RowCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (SELECT 1 FROM %s WHERE %s=%s)", notPrefix(c.Not), c.Table, c.Column, c.Value)
}

// SubqueryCondition is an EXISTS test over a generically rewritten query.
type SubqueryCondition struct {
	Not   bool
	Query string
}

func (c SubqueryCondition) SQL() string {
	return fmt.Sprintf("%sEXISTS (%s)", notPrefix(c.Not), c.Query)
}

// ExpressionCondition is a scalar boolean expression.
type ExpressionCondition struct {
	Expr string
}

func (c ExpressionCondition) SQL() string { return c.Expr }

// CompoundCondition joins recognized conditions with AND / OR.
type CompoundCondition struct {
	Parts []Condition
	Ops   []string // len(Parts)-1 operators
}

func (c CompoundCondition) SQL() string {
	var sb strings.Builder
	for i, p := range c.Parts {
		if i > 0 {
			sb.WriteString(" " + c.Ops[i-1] + " ")
		}
		sb.WriteString(p.SQL())
	}
	return sb.String()
}

func (OverrideCondition) condition()     {}
func (ColumnExistsCondition) condition() {}
func (TempTableCondition) condition()    {}
func (RelationCondition) condition()     {}
func (ProcedureCondition) condition()    {}
func (ConstraintCondition) condition()   {}
func (SchemaCondition) condition()       {}
func (IndexCondition) condition()        {}
func (PrimaryKeyCondition) condition()   {}
func (RowValuesCondition) condition()    {}
func (RowCondition) condition()          {}
func (SubqueryCondition) condition()     {}
func (ExpressionCondition) condition()   {}
func (CompoundCondition) condition()     {}

// valueKind classifies the right-hand side of a WHERE term.
type valueKind int

const (
	valueOther valueKind = iota
	valueString
	valueNumber
	valueVariable
	valueObjectID
	valueList
)

// term is one "left op right" conjunct of a catalog WHERE clause.
type term struct {
	Left   string // lower-case column, qualifier dropped
	Raw    string // left side as written, qualifier dropped
	Op     string // upper-case operator
	Kind   valueKind
	Value  string   // unquoted literal, variable, or object name
	Values []string // IN list
	Text   string   // right side as written
}

// existsQuery is the parsed form of [NOT] EXISTS (SELECT ... FROM x WHERE ...).
type existsQuery struct {
	Not     bool
	Inner   string // text of the SELECT inside the parentheses
	From    string // lower-case, dotted
	RawFrom string
	Simple  bool // single source, WHERE is a plain AND of column terms
	Or      bool // WHERE holds a top-level OR
	Terms   []term
}

func (q existsQuery) find(cols ...string) (term, bool) {
	for _, t := range q.Terms {
		for _, c := range cols {
			if t.Left == c {
				return t, true
			}
		}
	}
	return term{}, false
}

// onlyTerms reports whether every term's column is one of cols.
func (q existsQuery) onlyTerms(cols ...string) bool {
	for _, t := range q.Terms {
		ok := false
		for _, c := range cols {
			if t.Left == c {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// parseExists parses a normalized [NOT] EXISTS (SELECT ...) condition.
func parseExists(cond string) (existsQuery, bool) {
	toks := Tokenize(cond)
	sig := significantTokens(toks)
	var q existsQuery
	i := 0
	if i < len(sig) && sig[i].Is("NOT") {
		q.Not = true
		i++
	}
	if i+1 >= len(sig) || !sig[i].Is("EXISTS") || !sig[i+1].IsPunct("(") {
		return q, false
	}
	close, ok := matchParenToken(sig, i+1)
	if !ok || close != len(sig)-2 {
		return q, false
	}
	inner := sig[i+2 : close]
	if len(inner) == 0 || !inner[0].Is("SELECT") {
		return q, false
	}
	q.Inner = joinSpaced(inner)

	from := -1
	where := -1
	depth := 0
	for j, t := range inner {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("FROM") && from < 0:
			from = j
		case depth == 0 && t.Is("WHERE") && where < 0:
			where = j
		}
	}
	if from < 0 {
		return q, true
	}
	j := from + 1
	var parts []string
	for j < len(inner) && (inner[j].IsWord() || inner[j].Kind == TokenQuotedIdentifier) {
		parts = append(parts, unquoteIdent(inner[j].Text))
		if j+1 < len(inner) && inner[j+1].IsPunct(".") {
			j += 2
			continue
		}
		j++
		break
	}
	q.RawFrom = strings.Join(parts, ".")
	q.From = strings.ToLower(q.RawFrom)
	q.Simple = true
	// An alias may follow; anything else makes the source compound.
	stop := len(inner)
	if where >= 0 {
		stop = where
	}
	rest := inner[j:stop]
	if len(rest) > 0 && rest[0].Is("AS") {
		rest = rest[1:]
	}
	if len(rest) > 1 || len(rest) == 1 && !rest[0].IsWord() {
		q.Simple = false
	}
	if where >= 0 {
		terms, or := parseTerms(inner[where+1:])
		q.Terms, q.Or = terms, or
		if or {
			q.Simple = false
		}
		for _, t := range terms {
			if t.Left == "" {
				q.Simple = false
			}
		}
	}
	return q, true
}

// parseTerms splits a WHERE clause on top-level AND and reports whether a
// top-level OR was seen.
func parseTerms(toks []Token) ([]term, bool) {
	var terms []term
	depth, start := 0, 0
	or := false
	flush := func(end int) {
		t, _ := parseTerm(toks[start:end])
		terms = append(terms, t)
	}
	for j, t := range toks {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("OR"):
			or = true
		case depth == 0 && t.Is("AND"):
			if j > 0 && betweenPending(toks[start:j]) {
				continue
			}
			flush(j)
			start = j + 1
		}
	}
	flush(len(toks))
	return terms, or
}

func betweenPending(toks []Token) bool {
	for _, t := range toks {
		if t.Is("BETWEEN") {
			return true
		}
	}
	return false
}

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
}

func parseTerm(toks []Token) (term, bool) {
	var t term
	op := -1
	depth := 0
	for j, tok := range toks {
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case depth == 0 && op < 0 && (tok.Kind == TokenPunctuation && comparisonOps[tok.Text] || tok.Is("IN", "LIKE")):
			op = j
		}
	}
	if op <= 0 || op == len(toks)-1 {
		t.Text = joinSpaced(toks)
		return t, false
	}
	left := toks[:op]
	last := left[len(left)-1]
	if len(left) == 1 || len(left) == 3 && left[1].IsPunct(".") {
		t.Raw = unquoteIdent(last.Text)
		t.Left = strings.ToLower(t.Raw)
	} else {
		t.Raw = joinSpaced(left)
	}
	t.Op = strings.ToUpper(toks[op].Text)
	right := toks[op+1:]
	t.Text = joinSpaced(right)

	switch {
	case len(right) == 1 && right[0].Kind == TokenString:
		t.Kind, t.Value = valueString, unquoteString(right[0].Text)
	case len(right) == 1 && right[0].Kind == TokenQuotedIdentifier && strings.HasPrefix(right[0].Text, `"`):
		t.Kind, t.Value = valueString, unquoteIdent(right[0].Text)
	case len(right) == 1 && right[0].Kind == TokenNumber,
		len(right) == 2 && right[0].IsPunct("-") && right[1].Kind == TokenNumber:
		t.Kind, t.Value = valueNumber, joinTight(right)
	case len(right) == 1 && right[0].Kind == TokenVariable:
		t.Kind, t.Value = valueVariable, right[0].Text
	case right[0].Is("OBJECT_ID") && len(right) >= 4 && right[1].IsPunct("(") && right[2].Kind == TokenString:
		t.Kind, t.Value = valueObjectID, unquoteString(right[2].Text)
	case t.Op == "IN" && right[0].IsPunct("("):
		t.Kind = valueList
		for _, v := range right[1:] {
			if v.Kind == TokenString {
				t.Values = append(t.Values, strings.ToUpper(strings.TrimSpace(unquoteString(v.Text))))
			}
		}
	}
	return t, t.Left != ""
}

// significantTokens returns toks without trivia and the end-of-input
// token, followed by a fresh end-of-input token.
func significantTokens(toks []Token) []Token {
	var out []Token
	for _, t := range toks {
		if !t.IsTrivia() && t.Kind != TokenEndOfInput {
			out = append(out, t)
		}
	}
	return append(out, Token{Kind: TokenEndOfInput})
}

// joinSpaced renders significant tokens with single spaces, except around
// dots and inside call parentheses.
func joinSpaced(toks []Token) string {
	var sb strings.Builder
	for i, t := range toks {
		if t.Kind == TokenEndOfInput {
			break
		}
		if i > 0 && !tightJoin(toks[i-1], t) {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func tightJoin(prev, cur Token) bool {
	switch {
	case prev.IsPunct(".") || cur.IsPunct("."):
		return true
	case cur.IsPunct(",") || cur.IsPunct(")"):
		return true
	case prev.IsPunct("("):
		return true
	case cur.IsPunct("(") && prev.IsWord() && !structuralWords[prev.Upper()]:
		return true
	}
	return false
}

func joinTight(toks []Token) string {
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(t.Text)
	}
	return sb.String()
}
