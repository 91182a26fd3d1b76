package transpiler

import (
	"fmt"
	"strings"
)

// columnModifiers end the type part of a column definition.
var columnModifiers = map[string]bool{
	"NOT": true, "NULL": true, "IDENTITY": true, "DEFAULT": true,
	"CONSTRAINT": true, "PRIMARY": true, "UNIQUE": true, "CHECK": true,
	"REFERENCES": true, "FOREIGN": true, "COLLATE": true, "ROWGUIDCOL": true,
	"SPARSE": true, "FILESTREAM": true, "WITH": true,
}

// storageWords are index and constraint options that only affect physical
// storage in SQL Server.
var storageWords = map[string]bool{"CLUSTERED": true, "NONCLUSTERED": true}

// convertDDL handles CREATE, ALTER and DROP statements met inside a body.
func (c *converter) convertDDL(stmt Statement, toks []Token, f, last int, text string) Output {
	verb := toks[f].Upper()
	n := significant(toks, f+1)
	obj := toks[n].Upper()
	switch verb {
	case "CREATE":
		switch obj {
		case "TABLE":
			return c.convertCreateTable(stmt)
		case "INDEX", "UNIQUE", "CLUSTERED", "NONCLUSTERED":
			return c.convertCreateIndex(stmt, toks, f, last)
		case "SCHEMA", "SEQUENCE":
			return c.generic(stmt, text)
		}
		return c.needs(stmt, "CREATE "+obj)
	case "ALTER":
		if obj == "TABLE" {
			return c.convertAlterTable(stmt, toks, n, last)
		}
		return c.needs(stmt, "ALTER "+obj)
	}

	switch obj {
	case "TABLE", "VIEW", "SCHEMA", "SEQUENCE", "FUNCTION":
		return c.generic(stmt, text)
	case "PROC", "PROCEDURE":
		return c.generic(stmt, "DROP PROCEDURE "+statementBody(toks, significant(toks, n+1), last))
	case "INDEX":
		return c.convertDropIndex(stmt, toks, n, last)
	}
	return c.needs(stmt, "DROP "+obj)
}

// nameEnd returns the index of the last token of the dotted name at i.
func nameEnd(toks []Token, i int) int {
	for toks[i+1].IsPunct(".") && (toks[i+2].IsWord() || toks[i+2].Kind == TokenQuotedIdentifier || toks[i+2].IsPunct(".")) {
		i += 2
		if toks[i].IsPunct(".") {
			i++
		}
	}
	return i
}

func isNameToken(t Token) bool {
	return t.IsWord() || t.Kind == TokenQuotedIdentifier
}

// objectRef renders the object name toks[i..end] the way the clause
// rewrites would.
func (c *converter) objectRef(toks []Token, i, end int) string {
	return strings.TrimSpace(c.rewriteClause(joinSpaced(significantTokens(toks[i : end+1]))))
}

// convertCreateTable turns a CREATE TABLE block into PostgreSQL DDL. Temp
// tables become CREATE TEMP TABLE preceded by a DROP so the body can run
// more than once per session. Inline INDEX clauses are emitted as separate
// CREATE INDEX statements.
func (c *converter) convertCreateTable(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	f := significant(toks, 0)
	n := significant(toks, f+1)
	if !toks[n].Is("TABLE") {
		return c.needs(stmt, "unsupported CREATE")
	}
	ni := significant(toks, n+1)
	if !isNameToken(toks[ni]) {
		return c.needs(stmt, "CREATE TABLE without name")
	}
	ne := nameEnd(toks, ni)
	open := significant(toks, ne+1)
	if !toks[open].IsPunct("(") {
		return c.needs(stmt, "CREATE TABLE without column list")
	}
	close, ok := matchParenToken(toks, open)
	if !ok {
		return c.needs(stmt, "malformed CREATE TABLE")
	}
	rawName := Join(toks[ni : ne+1])
	name := c.objectRef(toks, ni, ne)
	temp := isTempRef(rawName)

	var defs, indexes []string
	for _, part := range splitTopLevel(toks[open+1 : close]) {
		el := significantTokens(part)
		if el[0].Kind == TokenEndOfInput {
			continue
		}
		if el[0].Is("INDEX") {
			ix, reason := c.inlineIndex(el, name)
			if reason != "" {
				return c.needs(stmt, reason)
			}
			indexes = append(indexes, ix)
			continue
		}
		if el[0].Is("CONSTRAINT", "PRIMARY", "UNIQUE", "FOREIGN", "CHECK") {
			def, reason := c.tableConstraint(el)
			if reason != "" {
				return c.needs(stmt, reason)
			}
			defs = append(defs, def)
			continue
		}
		def, reason := c.columnDef(el)
		if reason != "" {
			return c.needs(stmt, reason)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return c.needs(stmt, "CREATE TABLE without columns")
	}

	var sb strings.Builder
	if temp {
		fmt.Fprintf(&sb, "DROP TABLE IF EXISTS %s;\nCREATE TEMP TABLE %s (\n", name, name)
	} else {
		fmt.Fprintf(&sb, "CREATE TABLE %s (\n", name)
	}
	sb.WriteString("    " + strings.Join(defs, ",\n    "))
	sb.WriteString("\n);")
	for _, ix := range indexes {
		sb.WriteString("\n" + ix)
	}
	out := sb.String()
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: out}
}

// columnDef renders one column definition. el holds significant tokens
// followed by end of input. A non-empty reason means the column cannot be
// converted.
func (c *converter) columnDef(el []Token) (string, string) {
	if !isNameToken(el[0]) {
		return "", "unsupported column definition"
	}
	col := plainIdent(unquoteIdent(el[0].Text))
	if el[1].Is("AS") {
		return "", "computed column " + el[0].Text
	}
	i := 1
	depth := 0
	for ; el[i].Kind != TokenEndOfInput; i++ {
		if el[i].IsPunct("(") {
			depth++
		} else if el[i].IsPunct(")") {
			depth--
		} else if depth == 0 && el[i].IsWord() && columnModifiers[el[i].Upper()] {
			break
		}
	}
	if i == 1 {
		return "", "column " + el[0].Text + " without type"
	}
	pgType := MapTypeText(joinSpaced(el[1:i]))
	mods, reason := c.renderModifiers(el[i:], pgType)
	if reason != "" {
		return "", reason
	}
	return col + " " + pgType + mods, ""
}

// renderModifiers renders the NULL, IDENTITY, DEFAULT and inline
// constraint parts of a column definition.
func (c *converter) renderModifiers(el []Token, pgType string) (string, string) {
	var sb strings.Builder
	constraint := ""
	for i := 0; el[i].Kind != TokenEndOfInput; {
		t := el[i]
		switch {
		case t.Is("NOT") && el[i+1].Is("NULL"):
			sb.WriteString(" NOT NULL")
			i += 2
		case t.Is("NOT") && el[i+1].Is("FOR") && el[i+2].Is("REPLICATION"):
			i += 3
		case t.Is("NULL"):
			sb.WriteString(" NULL")
			i++
		case t.Is("IDENTITY"):
			sb.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
			i++
			if el[i].IsPunct("(") {
				close, ok := matchParenToken(el, i)
				if !ok {
					return "", "malformed IDENTITY"
				}
				args := splitTopLevelText(Join(el[i+1 : close]))
				if len(args) == 2 && (args[0] != "1" || args[1] != "1") {
					fmt.Fprintf(&sb, " (START WITH %s INCREMENT BY %s)", args[0], args[1])
				}
				i = close + 1
			}
		case t.Is("CONSTRAINT"):
			constraint = "CONSTRAINT " + plainIdent(unquoteIdent(el[i+1].Text)) + " "
			i += 2
			continue
		case t.Is("DEFAULT"):
			end := modifierEnd(el, i+1)
			value, reason := c.defaultValue(el[i+1:end], pgType)
			if reason != "" {
				return "", reason
			}
			sb.WriteString(" DEFAULT " + value)
			i = end
		case t.Is("PRIMARY") && el[i+1].Is("KEY"):
			sb.WriteString(" " + constraint + "PRIMARY KEY")
			i = skipStorage(el, i+2)
		case t.Is("UNIQUE"):
			sb.WriteString(" " + constraint + "UNIQUE")
			i = skipStorage(el, i+1)
		case t.Is("CHECK"):
			end := modifierEnd(el, i+1)
			sb.WriteString(" " + constraint + strings.TrimSpace(c.rewriteClause(joinSpaced(el[i:end]))))
			i = end
		case t.Is("REFERENCES"), t.Is("FOREIGN"):
			end := modifierEnd(el, i+1)
			sb.WriteString(" " + constraint + c.references(el[i:end]))
			i = end
		case t.Is("COLLATE"):
			i += 2
		case t.Is("ROWGUIDCOL", "SPARSE", "FILESTREAM"):
			i++
		default:
			return "", "column option " + t.Text
		}
		constraint = ""
	}
	return sb.String(), ""
}

// modifierEnd returns the index of the next column modifier keyword at
// paren depth zero after start.
func modifierEnd(el []Token, start int) int {
	depth := 0
	i := start
	for ; el[i].Kind != TokenEndOfInput; i++ {
		switch {
		case el[i].IsPunct("("):
			depth++
		case el[i].IsPunct(")"):
			depth--
		case depth == 0 && i > start && el[i].IsWord() && columnModifiers[el[i].Upper()]:
			return i
		}
	}
	return i
}

// skipStorage steps over CLUSTERED / NONCLUSTERED after a key clause.
func skipStorage(el []Token, i int) int {
	for el[i].IsWord() && storageWords[el[i].Upper()] {
		i++
	}
	return i
}

// defaultValue renders a column default. Redundant parentheses are dropped
// and bit defaults become boolean literals.
func (c *converter) defaultValue(toks []Token, pgType string) (string, string) {
	v := unwrapParens(joinSpaced(toks))
	if v == "" {
		return "", "DEFAULT without value"
	}
	if pgType == "boolean" {
		switch v {
		case "0", "'0'":
			return "false", ""
		case "1", "'1'":
			return "true", ""
		}
	}
	out := strings.TrimSpace(c.rewriteClause(v))
	if r := residue(out); r != "" {
		return "", r
	}
	return out, ""
}

// references renders REFERENCES / FOREIGN KEY clauses, dropping NOT FOR
// REPLICATION.
func (c *converter) references(el []Token) string {
	var kept []Token
	for i := 0; i < len(el); i++ {
		if el[i].Is("NOT") && i+2 < len(el) && el[i+1].Is("FOR") && el[i+2].Is("REPLICATION") {
			i += 2
			continue
		}
		kept = append(kept, el[i])
	}
	return strings.TrimSpace(c.rewriteClause(joinSpaced(kept)))
}

// tableConstraint renders a table-level constraint. Storage options such as
// CLUSTERED, WITH (...) and ON filegroup are dropped.
func (c *converter) tableConstraint(el []Token) (string, string) {
	keyed := false
	for _, t := range el {
		if t.Is("PRIMARY", "UNIQUE") {
			keyed = true
		}
		if t.IsPunct("(") {
			break
		}
	}
	var kept []Token
	depth := 0
	for i := 0; el[i].Kind != TokenEndOfInput; i++ {
		t := el[i]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		}
		// Key columns take no sort order in PostgreSQL.
		if keyed && depth == 1 && t.Is("ASC", "DESC") {
			continue
		}
		if depth == 0 && t.IsWord() && storageWords[t.Upper()] {
			continue
		}
		if depth == 0 && t.Is("WITH") && el[i+1].IsPunct("(") {
			close, ok := matchParenToken(el, i+1)
			if !ok {
				return "", "malformed constraint options"
			}
			i = close
			continue
		}
		if depth == 0 && t.Is("ON") && !el[i+1].Is("DELETE", "UPDATE") {
			i++
			continue
		}
		if t.Is("NOT") && el[i+1].Is("FOR") && el[i+2].Is("REPLICATION") {
			i += 2
			continue
		}
		if t.Is("CONSTRAINT") && i == 0 {
			kept = append(kept, t, Token{Kind: TokenIdentifier, Text: plainIdent(unquoteIdent(el[i+1].Text))})
			i++
			continue
		}
		kept = append(kept, t)
	}
	out := strings.TrimSpace(c.rewriteClause(joinSpaced(kept)))
	if r := residue(out); r != "" {
		return "", r
	}
	return out, ""
}

// inlineIndex turns "INDEX ix [CLUSTERED|NONCLUSTERED] (cols)" from a
// CREATE TABLE body into a CREATE INDEX statement on table.
func (c *converter) inlineIndex(el []Token, table string) (string, string) {
	if !isNameToken(el[1]) {
		return "", "malformed inline index"
	}
	i := skipStorage(el, 2)
	unique := ""
	if el[2].Is("UNIQUE") {
		unique = "UNIQUE "
		i = skipStorage(el, 3)
	}
	if !el[i].IsPunct("(") {
		return "", "malformed inline index"
	}
	close, ok := matchParenToken(el, i)
	if !ok {
		return "", "malformed inline index"
	}
	cols := strings.TrimSpace(c.rewriteClause(joinSpaced(el[i : close+1])))
	return fmt.Sprintf("CREATE %sINDEX %s ON %s %s;", unique, plainIdent(unquoteIdent(el[1].Text)), table, cols), ""
}

// convertCreateIndex keeps the key columns, INCLUDE list and filter of an
// index and drops SQL Server storage options.
func (c *converter) convertCreateIndex(stmt Statement, toks []Token, f, last int) Output {
	el := significantTokens(toks[f : last+1])
	i := 1
	unique := ""
	if el[i].Is("UNIQUE") {
		unique = "UNIQUE "
		i++
	}
	i = skipStorage(el, i)
	if !el[i].Is("INDEX") || !isNameToken(el[i+1]) || !el[i+2].Is("ON") {
		return c.needs(stmt, "unsupported CREATE INDEX")
	}
	ix := plainIdent(unquoteIdent(el[i+1].Text))
	ti := i + 3
	te := nameEnd(el, ti)
	table := c.objectRef(el, ti, te)
	open := te + 1
	if !el[open].IsPunct("(") {
		return c.needs(stmt, "CREATE INDEX without columns")
	}
	close, ok := matchParenToken(el, open)
	if !ok {
		return c.needs(stmt, "malformed CREATE INDEX")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE %sINDEX %s ON %s %s", unique, ix, table, strings.TrimSpace(c.rewriteClause(joinSpaced(el[open:close+1]))))
	for j := close + 1; el[j].Kind != TokenEndOfInput && !el[j].IsPunct(";"); {
		switch {
		case el[j].Is("INCLUDE") && el[j+1].IsPunct("("):
			end, ok := matchParenToken(el, j+1)
			if !ok {
				return c.needs(stmt, "malformed INCLUDE")
			}
			sb.WriteString(" " + strings.TrimSpace(c.rewriteClause(joinSpaced(el[j:end+1]))))
			j = end + 1
		case el[j].Is("WHERE"):
			end := j + 1
			for el[end].Kind != TokenEndOfInput && !el[end].IsPunct(";") && !el[end].Is("WITH", "ON") {
				end++
			}
			sb.WriteString(" " + strings.TrimSpace(c.rewriteClause(joinSpaced(el[j:end]))))
			j = end
		case el[j].Is("WITH") && el[j+1].IsPunct("("):
			end, ok := matchParenToken(el, j+1)
			if !ok {
				return c.needs(stmt, "malformed index options")
			}
			j = end + 1
		case el[j].Is("ON"):
			j += 2
			if el[j].IsPunct("(") {
				end, ok := matchParenToken(el, j)
				if !ok {
					return c.needs(stmt, "malformed partition clause")
				}
				j = end + 1
			}
		default:
			return c.needs(stmt, "index option "+el[j].Text)
		}
	}
	sb.WriteString(";")
	out := sb.String()
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: out}
}

// convertDropIndex handles both DROP INDEX ix ON t and DROP INDEX t.ix.
func (c *converter) convertDropIndex(stmt Statement, toks []Token, n, last int) Output {
	el := significantTokens(toks[n : last+1])
	i := 1
	ifExists := ""
	if el[i].Is("IF") && el[i+1].Is("EXISTS") {
		ifExists = "IF EXISTS "
		i += 2
	}
	if !isNameToken(el[i]) {
		return c.needs(stmt, "unsupported DROP INDEX")
	}
	end := nameEnd(el, i)
	ix := plainIdent(unquoteIdent(el[end].Text))
	next := end + 1
	switch {
	case el[next].Is("ON"):
		next = nameEnd(el, next+1) + 1
	case el[next].IsPunct(","):
		return c.needs(stmt, "DROP INDEX with several indexes")
	}
	if el[next].Kind != TokenEndOfInput && !el[next].IsPunct(";") {
		return c.needs(stmt, "unsupported DROP INDEX")
	}
	return Output{Converted: "DROP INDEX " + ifExists + ix + ";"}
}

// convertAlterTable handles ALTER TABLE t ADD / ALTER COLUMN / DROP.
// n indexes the TABLE keyword.
func (c *converter) convertAlterTable(stmt Statement, toks []Token, n, last int) Output {
	el := significantTokens(toks[n : last+1])
	if el[len(el)-2].IsPunct(";") {
		el = append(el[:len(el)-2:len(el)-2], el[len(el)-1])
	}
	if !isNameToken(el[1]) {
		return c.needs(stmt, "unsupported ALTER TABLE")
	}
	te := nameEnd(el, 1)
	table := c.objectRef(el, 1, te)
	i := te + 1
	if el[i].Is("WITH") && el[i+1].Is("CHECK", "NOCHECK") {
		i += 2
	}

	var actions []string
	switch {
	case el[i].Is("ADD"):
		for _, part := range splitTopLevel(el[i+1 : len(el)-1]) {
			a, reason := c.alterAdd(part)
			if reason != "" {
				return c.needs(stmt, reason)
			}
			actions = append(actions, a)
		}
	case el[i].Is("ALTER") && el[i+1].Is("COLUMN"):
		a, reason := c.alterColumn(el[i+2:])
		if reason != "" {
			return c.needs(stmt, reason)
		}
		actions = append(actions, a...)
	case el[i].Is("DROP"):
		kind := "COLUMN"
		j := i + 1
		if el[j].Is("COLUMN", "CONSTRAINT") {
			kind = el[j].Upper()
			j++
		}
		exists := ""
		if el[j].Is("IF") && el[j+1].Is("EXISTS") {
			exists = "IF EXISTS "
			j += 2
		}
		for _, part := range splitTopLevel(el[j : len(el)-1]) {
			p := significantTokens(part)
			if len(p) != 2 || !isNameToken(p[0]) {
				return c.needs(stmt, "unsupported ALTER TABLE DROP")
			}
			actions = append(actions, "DROP "+kind+" "+exists+plainIdent(unquoteIdent(p[0].Text)))
		}
	case el[i].Is("CHECK") && el[i+1].Is("CONSTRAINT") && isNameToken(el[i+2]):
		actions = append(actions, "VALIDATE CONSTRAINT "+plainIdent(unquoteIdent(el[i+2].Text)))
	default:
		return c.needs(stmt, "unsupported ALTER TABLE action")
	}
	if len(actions) == 0 {
		return c.needs(stmt, "empty ALTER TABLE")
	}
	out := "ALTER TABLE " + table + " " + strings.Join(actions, ", ") + ";"
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: out}
}

// alterAdd renders one item of ALTER TABLE ... ADD.
func (c *converter) alterAdd(part []Token) (string, string) {
	el := significantTokens(part)
	if el[0].Kind == TokenEndOfInput {
		return "", "empty ADD"
	}
	if len(el) > 3 && el[0].Is("CONSTRAINT") && el[2].Is("DEFAULT") {
		// ADD CONSTRAINT df DEFAULT value FOR col
		j := 3
		for el[j].Kind != TokenEndOfInput && !el[j].Is("FOR") {
			j++
		}
		if el[j].Kind == TokenEndOfInput || !isNameToken(el[j+1]) {
			return "", "DEFAULT constraint without column"
		}
		value, reason := c.defaultValue(el[3:j], "")
		if reason != "" {
			return "", reason
		}
		return "ALTER COLUMN " + plainIdent(unquoteIdent(el[j+1].Text)) + " SET DEFAULT " + value, ""
	}
	if el[0].Is("CONSTRAINT", "PRIMARY", "UNIQUE", "FOREIGN", "CHECK") {
		def, reason := c.tableConstraint(el)
		if reason != "" {
			return "", reason
		}
		return "ADD " + def, ""
	}
	if el[0].Is("COLUMN") {
		el = el[1:]
	}
	def, reason := c.columnDef(el)
	if reason != "" {
		return "", reason
	}
	return "ADD COLUMN " + def, ""
}

// alterColumn renders ALTER COLUMN col type [NULL | NOT NULL] as a TYPE
// change plus an explicit nullability change.
func (c *converter) alterColumn(el []Token) ([]string, string) {
	if !isNameToken(el[0]) {
		return nil, "unsupported ALTER COLUMN"
	}
	col := plainIdent(unquoteIdent(el[0].Text))
	i := 1
	for el[i].Kind != TokenEndOfInput && !(el[i].IsWord() && columnModifiers[el[i].Upper()]) {
		i++
	}
	if i == 1 {
		return nil, "ALTER COLUMN without type"
	}
	actions := []string{"ALTER COLUMN " + col + " TYPE " + MapTypeText(joinSpaced(el[1:i]))}
	for el[i].Kind != TokenEndOfInput {
		switch {
		case el[i].Is("NOT") && el[i+1].Is("NULL"):
			actions = append(actions, "ALTER COLUMN "+col+" SET NOT NULL")
			i += 2
		case el[i].Is("NULL"):
			actions = append(actions, "ALTER COLUMN "+col+" DROP NOT NULL")
			i++
		case el[i].Is("COLLATE"):
			i += 2
		default:
			return nil, "ALTER COLUMN option " + el[i].Text
		}
	}
	return actions, ""
}
