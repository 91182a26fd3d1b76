package transpiler

import (
	"fmt"
	"strings"
)

// RelationKind describes what currently occupies a view's name in the
// target database.
type RelationKind int

const (
	RelationUnknown RelationKind = iota
	RelationNone
	RelationView
	RelationMaterialized
)

func (k RelationKind) String() string {
	switch k {
	case RelationNone:
		return "none"
	case RelationView:
		return "view"
	case RelationMaterialized:
		return "materialized view"
	}
	return "unknown"
}

// ViewSource is a view as read from SQL Server.
type ViewSource struct {
	Name       string
	Definition string
	Existing   RelationKind
}

// ViewColumn is one output column of a view, taken from the first SELECT.
type ViewColumn struct {
	Alias         string
	IsStringTyped bool
}

// ViewResult is a fully converted view.
type ViewResult struct {
	Name        string
	DDL         string
	Columns     []ViewColumn
	Diagnostics []Diagnostic
}

// replacement substitutes text for toks[start:end].
type replacement struct {
	start, end int
	text       string
}

// ConvertView converts a view definition into PostgreSQL DDL. Every UNION
// branch is re-aliased to the column names of the first branch, and a
// guarded DROP precedes the CREATE unless the transpiler was configured to
// use CREATE OR REPLACE.
func (t *Transpiler) ConvertView(src ViewSource) (*ViewResult, error) {
	toks := stripBatchSeparators(Tokenize(src.Definition))
	if significant(toks, 0) == len(toks)-1 {
		return nil, fmt.Errorf("view %s: %w", src.Name, ErrEmptyDefinition)
	}
	headerName, columnList, bodyStart := viewHeader(toks)
	name := src.Name
	if name == "" {
		name = headerName
	}
	name = objectName(name)
	if name == "" {
		return nil, fmt.Errorf("view without a name: %w", ErrEmptyDefinition)
	}

	c := t.newConverter(name)
	body := toks[bodyStart:]
	cols, reps, reason := reconcileUnion(withEOF(body))
	if reason != "" {
		c.needsText(Join(body), reason)
		return nil, c.incompleteView("", Join(body))
	}
	text := applyReplacements(body, reps)
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	converted := strings.TrimSpace(c.rewriteStatement(text))
	if r := residue(converted); r != "" {
		c.needsText(text, r)
		return nil, c.incompleteView(converted, text)
	}

	var sb strings.Builder
	create := "CREATE VIEW"
	if t.opts.ReplaceViews {
		create = "CREATE OR REPLACE VIEW"
	} else if pre := viewPreamble(name, src.Existing); pre != "" {
		sb.WriteString(pre + "\n")
	}
	fmt.Fprintf(&sb, "%s %s%s AS\n%s", create, pgQuoted(name), columnList, converted)

	return &ViewResult{
		Name:        name,
		DDL:         sb.String(),
		Columns:     cols,
		Diagnostics: c.diags,
	}, nil
}

func (c *converter) incompleteView(converted, unconverted string) error {
	return &IncompleteError{
		Kind:        "view",
		Object:      c.object,
		Converted:   converted,
		Unconverted: unconverted,
		Diagnostics: c.diags,
	}
}

// viewPreamble returns the guarded DROP for whatever relation already holds
// the name. An unknown kind checks for both at run time.
func viewPreamble(name string, existing RelationKind) string {
	lit := quoteString(name)
	ident := pgQuoted(name)
	view := fmt.Sprintf("    IF EXISTS (SELECT 1 FROM pg_views WHERE viewname = %s) THEN\n        DROP VIEW %s;\n    END IF;\n", lit, ident)
	mat := fmt.Sprintf("    IF EXISTS (SELECT 1 FROM pg_matviews WHERE matviewname = %s) THEN\n        DROP MATERIALIZED VIEW %s;\n    END IF;\n", lit, ident)
	var checks string
	switch existing {
	case RelationNone:
		return ""
	case RelationView:
		checks = view
	case RelationMaterialized:
		checks = mat
	default:
		checks = mat + view
	}
	return "DO $$\nBEGIN\n" + checks + "END $$;"
}

// viewHeader locates CREATE [OR ALTER] VIEW name [(columns)] [WITH ...] AS.
// It returns the view name, the rendered column list ("" when absent) and
// the index where the body starts. A definition without a header is all
// body.
func viewHeader(toks []Token) (string, string, int) {
	f := significant(toks, 0)
	if !toks[f].Is("CREATE", "ALTER") || !isViewHeader(toks, f) {
		return "", "", 0
	}
	v := f
	for !toks[v].Is("VIEW") {
		v = significant(toks, v+1)
	}
	n := significant(toks, v+1)
	if !isNameToken(toks[n]) {
		return "", "", 0
	}
	ne := nameEnd(toks, n)
	name := objectName(Join(toks[n : ne+1]))
	j := significant(toks, ne+1)
	columns := ""
	if toks[j].IsPunct("(") {
		close, ok := matchParenToken(toks, j)
		if !ok {
			return name, "", 0
		}
		var names []string
		for _, part := range splitTopLevel(toks[j+1 : close]) {
			el := significantTokens(part)
			names = append(names, pgIdent(el[0].Text))
		}
		columns = " (" + strings.Join(names, ", ") + ")"
		j = significant(toks, close+1)
	}
	for ; toks[j].Kind != TokenEndOfInput; j = significant(toks, j+1) {
		if toks[j].Is("AS") {
			return name, columns, j + 1
		}
	}
	return name, columns, 0
}

// reconcileUnion computes the view columns from the first UNION branch and
// the replacements that force every branch's projection onto them. A
// non-empty reason means the branches cannot be reconciled.
func reconcileUnion(toks []Token) ([]ViewColumn, []replacement, string) {
	main := mainQueryStart(toks)
	branches := unionBranches(toks, main)
	var cols []ViewColumn
	var reps []replacement
	for bi, br := range branches {
		fields, ok := projection(toks, br[0], br[1])
		if !ok {
			if bi == 0 {
				return nil, nil, ""
			}
			continue
		}
		if bi == 0 {
			for _, fl := range fields {
				cols = append(cols, ViewColumn{Alias: fl.alias, IsStringTyped: fl.stringTyped})
			}
		} else if len(fields) != len(cols) {
			return nil, nil, fmt.Sprintf("UNION branch %d has %d columns, the first has %d", bi+1, len(fields), len(cols))
		}
		for i, fl := range fields {
			col := cols[i]
			if col.Alias == "" || fl.star {
				continue
			}
			expr := fl.expr
			if bi > 0 && col.IsStringTyped {
				if _, ok := numericLiteral(expr); ok {
					expr = quoteString(strings.TrimSpace(expr))
				}
			}
			reps = append(reps, replacement{start: fl.start, end: fl.end, text: expr + " AS " + pgIdent(col.Alias)})
		}
	}
	return cols, reps, ""
}

// mainQueryStart skips a leading WITH list and returns the index of the
// main query.
func mainQueryStart(toks []Token) int {
	j := significant(toks, 0)
	if !toks[j].Is("WITH") {
		return j
	}
	j = significant(toks, j+1)
	for isNameToken(toks[j]) {
		j = significant(toks, j+1)
		if toks[j].IsPunct("(") {
			close, ok := matchParenToken(toks, j)
			if !ok {
				return j
			}
			j = significant(toks, close+1)
		}
		if !toks[j].Is("AS") {
			return j
		}
		open := significant(toks, j+1)
		close, ok := matchParenToken(toks, open)
		if !ok {
			return open
		}
		j = significant(toks, close+1)
		if !toks[j].IsPunct(",") {
			return j
		}
		j = significant(toks, j+1)
	}
	return j
}

// unionBranches splits the query at from into [start, end) ranges at
// top-level UNION [ALL].
func unionBranches(toks []Token, from int) [][2]int {
	var out [][2]int
	depth := 0
	start := from
	for j := from; toks[j].Kind != TokenEndOfInput; j++ {
		t := toks[j]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("UNION"):
			out = append(out, [2]int{start, j})
			start = significant(toks, j+1)
			if toks[start].Is("ALL") {
				start = significant(toks, start+1)
			}
			j = start - 1
		}
	}
	return append(out, [2]int{start, len(toks) - 1})
}

// viewField is one projected column of a SELECT branch. start and end
// bound the field's significant tokens.
type viewField struct {
	start, end  int
	expr        string
	alias       string
	stringTyped bool
	star        bool
}

// projection returns the fields of the SELECT branch in [start, end).
func projection(toks []Token, start, end int) ([]viewField, bool) {
	s := significant(toks, start)
	if s >= end || !toks[s].Is("SELECT") {
		return nil, false
	}
	p := significant(toks, s+1)
	if toks[p].Is("DISTINCT", "ALL") {
		p = significant(toks, p+1)
	}
	if toks[p].Is("TOP") {
		_, after, ok := topCount(toks, p)
		if !ok {
			return nil, false
		}
		p = significant(toks, after)
	}
	pe := p
	depth := 0
	for ; pe < end; pe++ {
		t := toks[pe]
		if t.IsPunct("(") {
			depth++
		} else if t.IsPunct(")") {
			depth--
		} else if depth == 0 && t.Is("FROM", "INTO", "WHERE", "GROUP", "ORDER", "HAVING", "OPTION", "FOR") {
			break
		}
	}
	if pe > end {
		pe = end
	}

	var fields []viewField
	depth = 0
	fs := p
	for j := p; j <= pe; j++ {
		if j < pe {
			if toks[j].IsPunct("(") {
				depth++
			} else if toks[j].IsPunct(")") {
				depth--
			}
			if !(depth == 0 && toks[j].IsPunct(",")) {
				continue
			}
		}
		fl, ok := parseField(toks, fs, j)
		if !ok {
			return nil, false
		}
		fields = append(fields, fl)
		fs = j + 1
	}
	return fields, len(fields) > 0
}

// parseField reads the field in toks[from:to]: its expression, its alias
// and whether it is a string literal or a cast to a character type.
func parseField(toks []Token, from, to int) (viewField, bool) {
	var sig []int
	for j := from; j < to; j++ {
		if !toks[j].IsTrivia() {
			sig = append(sig, j)
		}
	}
	if len(sig) == 0 {
		return viewField{}, false
	}
	n := len(sig)
	fl := viewField{start: sig[0], end: sig[n-1] + 1}
	last := toks[sig[n-1]]
	exprFrom, exprTo := sig[0], sig[n-1]

	switch {
	case last.IsPunct("*"):
		fl.star = true
	case n >= 3 && toks[sig[1]].IsPunct("=") && isNameToken(toks[sig[0]]):
		fl.alias = aliasText(toks[sig[0]])
		exprFrom = sig[2]
	case n >= 3 && toks[sig[n-2]].Is("AS"):
		fl.alias = aliasText(last)
		exprTo = sig[n-3]
	case n >= 2 && impliedAlias(toks[sig[n-2]], last):
		fl.alias = aliasText(last)
		exprTo = sig[n-2]
	case dottedName(toks, sig):
		fl.alias = aliasText(last)
	}
	fl.expr = strings.TrimSpace(Join(toks[exprFrom : exprTo+1]))
	fl.stringTyped = stringTypedExpr(fl.expr)
	return fl, true
}

// dottedName reports whether the tokens at sig form a plain column
// reference such as t.col.
func dottedName(toks []Token, sig []int) bool {
	for k, j := range sig {
		if k%2 == 0 && !isNameToken(toks[j]) || k%2 == 1 && !toks[j].IsPunct(".") {
			return false
		}
	}
	return len(sig)%2 == 1
}

// impliedAlias reports whether last is an alias written without AS after
// an expression ending in prev.
func impliedAlias(prev, last Token) bool {
	if last.Kind != TokenIdentifier && last.Kind != TokenQuotedIdentifier && last.Kind != TokenString {
		return false
	}
	switch prev.Kind {
	case TokenIdentifier, TokenQuotedIdentifier, TokenNumber, TokenString, TokenVariable:
		return true
	case TokenKeyword:
		return prev.Is("END", "NULL")
	}
	return prev.IsPunct(")")
}

func aliasText(t Token) string {
	if t.Kind == TokenString {
		return strings.ToLower(unquoteString(t.Text))
	}
	return strings.ToLower(unquoteIdent(t.Text))
}

// stringTypedExpr reports whether a projected expression is a string
// literal or a cast to a character type.
func stringTypedExpr(expr string) bool {
	el := significantTokens(Tokenize(expr))
	if len(el) == 2 && el[0].Kind == TokenString {
		return true
	}
	if len(el) > 2 && el[1].IsPunct("(") {
		switch el[0].Upper() {
		case "CAST":
			return castsToString(expr)
		case "CONVERT":
			open, close := strings.Index(expr, "("), strings.LastIndex(expr, ")")
			if close <= open {
				return false
			}
			args := splitTopLevelText(expr[open+1 : close])
			return len(args) > 0 && isStringType(args[0])
		}
	}
	return false
}

// applyReplacements renders toks with each replacement substituted.
// Replacements must be ordered and non-overlapping.
func applyReplacements(toks []Token, reps []replacement) string {
	var sb strings.Builder
	pos := 0
	for _, r := range reps {
		sb.WriteString(Join(toks[pos:r.start]))
		sb.WriteString(r.text)
		pos = r.end
	}
	sb.WriteString(Join(toks[pos:]))
	return sb.String()
}
