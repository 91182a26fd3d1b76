package transpiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// converter holds the state of one object conversion: hoisted
// declarations, variables known to hold strings and the diagnostics
// collected so far. It is not shared between objects.
type converter struct {
	opts       Options
	patterns   *patternTable
	object     string
	declares   *declareSet
	stringVars map[string]bool
	diags      []Diagnostic
	inCatch    bool
}

// needs routes a statement to the needs-conversion buffer and records why.
func (c *converter) needs(stmt Statement, reason string) Output {
	return c.needsText(stmt.Text(), reason)
}

func (c *converter) needsText(text, reason string) Output {
	c.diags = append(c.diags, Diagnostic{Object: c.object, Statement: text, Reason: reason})
	return Output{NeedsConversion: strings.Trim(text, "\r\n")}
}

// convertBody segments toks and converts every statement in order.
func (c *converter) convertBody(toks []Token) Output {
	var out Output
	for _, stmt := range Segment(withEOF(toks)) {
		out.append(c.convertStatement(stmt))
	}
	return out
}

func (c *converter) convertStatement(stmt Statement) Output {
	if stmt.Malformed {
		return c.needs(stmt, "malformed statement")
	}
	switch stmt.Kind {
	case StmtBlank, StmtCreateProcedureHeader:
		return Output{}
	case StmtBlockComment, StmtLineComment:
		return Output{Converted: strings.TrimSpace(stmt.Text())}
	case StmtIfBlock:
		return c.convertIf(stmt)
	case StmtWhileBlock:
		return c.convertWhile(stmt)
	case StmtBeginEndBlock:
		return c.convertBlock(stmt)
	case StmtTryCatchBlock:
		return c.convertTryCatch(stmt)
	case StmtCreateTableBlock:
		return c.convertCreateTable(stmt)
	case StmtCreateViewBlock:
		return c.needs(stmt, "view definition inside a body")
	}
	return c.convertGeneric(stmt)
}

// indent prefixes every non-empty line of s with four spaces.
func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = "    " + l
		}
	}
	return strings.Join(lines, "\n")
}

func bodyOrNull(s string) string {
	if strings.TrimSpace(s) == "" {
		return "NULL;"
	}
	return s
}

// convertArm converts an IF / ELSE / WHILE body, unwrapping BEGIN ... END.
func (c *converter) convertArm(arm []Token) Output {
	a := withEOF(arm)
	b := significant(a, 0)
	if a[b].Is("BEGIN") && !isTransactionBegin(a, b) && !a[significant(a, b+1)].Is("TRY") {
		if end, ok := matchEnd(a, b); ok {
			return c.convertBody(a[b+1 : end-1])
		}
	}
	return c.convertBody(a)
}

// convertIf renders IF ... THEN ... [ELSIF ...] [ELSE ...] END IF. Any part
// that cannot be converted sends the whole block to needs-conversion.
func (c *converter) convertIf(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	shape, ok := scanIf(toks, significant(toks, 0))
	if !ok {
		return c.needs(stmt, "malformed IF block")
	}
	var sb strings.Builder
	for i, br := range shape.branches {
		cond := Join(toks[br.condStart:br.condEnd])
		pg, ok := c.convertCondition(cond)
		if !ok {
			return c.needs(stmt, "unrecognized condition: "+strings.Join(strings.Fields(cond), " "))
		}
		body := c.convertArm(toks[br.bodyStart:br.bodyEnd])
		if body.NeedsConversion != "" {
			return Output{NeedsConversion: strings.Trim(stmt.Text(), "\r\n")}
		}
		kw := "IF"
		if i > 0 {
			kw = "ELSIF"
		}
		fmt.Fprintf(&sb, "%s %s THEN\n%s\n", kw, pg, indent(bodyOrNull(body.Converted)))
	}
	if shape.elseStart >= 0 {
		body := c.convertArm(toks[shape.elseStart:shape.elseEnd])
		if body.NeedsConversion != "" {
			return Output{NeedsConversion: strings.Trim(stmt.Text(), "\r\n")}
		}
		fmt.Fprintf(&sb, "ELSE\n%s\n", indent(bodyOrNull(body.Converted)))
	}
	sb.WriteString("END IF;")
	return Output{Converted: sb.String()}
}

func (c *converter) convertWhile(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	br, ok := scanConditionalArm(toks, significant(toks, 0))
	if !ok {
		return c.needs(stmt, "malformed WHILE block")
	}
	cond := Join(toks[br.condStart:br.condEnd])
	pg, ok := c.convertCondition(cond)
	if !ok {
		return c.needs(stmt, "unrecognized condition: "+strings.Join(strings.Fields(cond), " "))
	}
	body := c.convertArm(toks[br.bodyStart:br.bodyEnd])
	if body.NeedsConversion != "" {
		return Output{NeedsConversion: strings.Trim(stmt.Text(), "\r\n")}
	}
	return Output{Converted: fmt.Sprintf("WHILE %s LOOP\n%s\nEND LOOP;", pg, indent(bodyOrNull(body.Converted)))}
}

// blockInner returns the tokens between BEGIN [TRY|CATCH] at b and its
// matching END, and the index just past the block.
func blockInner(toks []Token, b int) ([]Token, int, bool) {
	end, ok := matchEnd(toks, b)
	if !ok {
		return nil, 0, false
	}
	start := b + 1
	if q := significant(toks, start); toks[q].Is("TRY", "CATCH") {
		start = q + 1
	}
	last := prevSignificant(toks, end)
	if toks[last].Is("TRY", "CATCH") {
		last = prevSignificant(toks, last)
	}
	return toks[start:last], end, true
}

func (c *converter) convertBlock(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	inner, _, ok := blockInner(toks, significant(toks, 0))
	if !ok {
		return c.needs(stmt, "malformed BEGIN block")
	}
	body := c.convertBody(inner)
	if body.NeedsConversion != "" {
		return Output{NeedsConversion: strings.Trim(stmt.Text(), "\r\n")}
	}
	return Output{Converted: "BEGIN\n" + indent(bodyOrNull(body.Converted)) + "\nEND;"}
}

// convertTryCatch renders BEGIN TRY ... END TRY BEGIN CATCH ... END CATCH
// as a block with an exception handler.
func (c *converter) convertTryCatch(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	tryInner, next, ok := blockInner(toks, significant(toks, 0))
	if !ok {
		return c.needs(stmt, "malformed TRY block")
	}
	var catchInner []Token
	if b := significant(toks, next); toks[b].Is("BEGIN") && toks[significant(toks, b+1)].Is("CATCH") {
		catchInner, _, ok = blockInner(toks, b)
		if !ok {
			return c.needs(stmt, "malformed CATCH block")
		}
	}
	try := c.convertBody(tryInner)
	saved := c.inCatch
	c.inCatch = true
	catch := c.convertBody(catchInner)
	c.inCatch = saved
	if try.NeedsConversion != "" || catch.NeedsConversion != "" {
		return Output{NeedsConversion: strings.Trim(stmt.Text(), "\r\n")}
	}
	return Output{Converted: fmt.Sprintf("BEGIN\n%s\nEXCEPTION WHEN OTHERS THEN\n%s\nEND;",
		indent(bodyOrNull(try.Converted)), indent(bodyOrNull(catch.Converted)))}
}

// sessionOptions are SET options with no effect on converted code.
var sessionOptions = map[string]bool{
	"NOCOUNT": true, "XACT_ABORT": true, "ANSI_NULLS": true, "ANSI_WARNINGS": true,
	"ANSI_PADDING": true, "ANSI_NULL_DFLT_ON": true, "QUOTED_IDENTIFIER": true,
	"ARITHABORT": true, "CONCAT_NULL_YIELDS_NULL": true, "NUMERIC_ROUNDABORT": true,
	"DATEFORMAT": true, "DATEFIRST": true, "LANGUAGE": true, "DEADLOCK_PRIORITY": true,
	"LOCK_TIMEOUT": true, "TRANSACTION": true, "IMPLICIT_TRANSACTIONS": true,
	"FMTONLY": true, "STATISTICS": true, "NOEXEC": true, "IDENTITY_INSERT": true,
	"CURSOR_CLOSE_ON_COMMIT": true, "TEXTSIZE": true,
}

// convertGeneric dispatches an ordinary statement on its first word.
func (c *converter) convertGeneric(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	f := significant(toks, 0)
	last := prevSignificant(toks, len(toks)-1)
	if last < f {
		return Output{}
	}
	text := strings.TrimSpace(Join(toks[f : last+1]))
	var comment string
	for _, t := range toks[last+1:] {
		if t.Kind == TokenLineComment {
			comment = t.Text
		}
	}
	out := c.dispatch(stmt, toks, f, last, text)
	if out.Converted != "" && comment != "" {
		out.Converted += " " + comment
	}
	return out
}

func (c *converter) dispatch(stmt Statement, toks []Token, f, last int, text string) Output {
	first := toks[f]
	if first.IsWord() && toks[significant(toks, f+1)].IsPunct(":") {
		return c.needs(stmt, "label")
	}
	switch first.Upper() {
	case "DECLARE":
		return c.convertDeclare(stmt)
	case "SET":
		return c.convertSet(stmt, toks, f, last)
	case "SELECT":
		return c.convertSelect(stmt, toks, f, last, text)
	case "EXEC", "EXECUTE":
		return c.convertExec(stmt, toks, f, last, text)
	case "DELETE":
		return c.convertDelete(stmt, toks, f, last)
	case "UPDATE":
		return c.convertUpdate(stmt, toks, f, last, text)
	case "INSERT":
		return c.convertInsert(stmt, toks, f, text)
	case "PRINT":
		return c.convertPrint(stmt, toks, f, last)
	case "RAISERROR":
		return c.convertRaiserror(stmt, toks, f, last)
	case "THROW":
		return c.convertThrow(stmt, toks, f, last)
	case "RETURN":
		return Output{Converted: "RETURN;"}
	case "BEGIN", "COMMIT", "SAVE":
		return Output{}
	case "ROLLBACK":
		if c.inCatch {
			return Output{}
		}
		return Output{Converted: "ROLLBACK;"}
	case "BREAK":
		return Output{Converted: "EXIT;"}
	case "CONTINUE":
		return Output{Converted: "CONTINUE;"}
	case "WAITFOR":
		return c.convertWaitFor(stmt, text)
	case "CREATE", "ALTER", "DROP":
		return c.convertDDL(stmt, toks, f, last, text)
	case "GOTO", "USE", "OPEN", "CLOSE", "FETCH", "DEALLOCATE", "MERGE", "GRANT", "DENY", "REVOKE":
		return c.needs(stmt, first.Upper()+" statement")
	case "ELSE", "END":
		return c.needs(stmt, "unbalanced "+first.Upper())
	}
	return c.generic(stmt, text)
}

// generic applies the clause rewrites and the residue check.
func (c *converter) generic(stmt Statement, text string) Output {
	out := c.rewriteStatement(text)
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: strings.TrimSpace(out)}
}

// statementBody returns the text from i through last without a trailing ';'.
func statementBody(toks []Token, i, last int) string {
	if toks[last].IsPunct(";") {
		last = prevSignificant(toks, last)
	}
	if i > last {
		return ""
	}
	return strings.TrimSpace(Join(toks[i : last+1]))
}

func (c *converter) convertSet(stmt Statement, toks []Token, f, last int) Output {
	n := significant(toks, f+1)
	target := toks[n]
	if target.Kind != TokenVariable {
		if !target.IsWord() {
			return c.needs(stmt, "unsupported SET")
		}
		opt := target.Upper()
		switch {
		case opt == "ROWCOUNT":
			if v := toks[significant(toks, n+1)]; v.Text == "0" {
				return Output{}
			}
			return c.needs(stmt, "SET ROWCOUNT")
		case sessionOptions[opt]:
			return Output{}
		}
		return c.needs(stmt, "unsupported SET option "+opt)
	}
	op := significant(toks, n+1)
	opText := toks[op].Text
	switch opText {
	case "=", "+=", "-=", "*=", "/=":
	default:
		return c.needs(stmt, "unsupported SET")
	}
	expr := statementBody(toks, op+1, last)
	if expr == "" {
		return c.needs(stmt, "SET without value")
	}
	name := varName(target.Text)
	rhs := strings.TrimSpace(c.rewriteClause(expr))
	if r := residue(rhs); r != "" {
		return c.needs(stmt, r)
	}
	if opText != "=" {
		if strings.ContainsAny(rhs, " +-*/") {
			rhs = "(" + rhs + ")"
		}
		if opText == "+=" && c.stringVars[strings.ToLower(strings.TrimPrefix(target.Text, "@"))] {
			rhs = "CONCAT(" + name + ", " + strings.TrimSuffix(strings.TrimPrefix(rhs, "("), ")") + ")"
		} else {
			rhs = name + " " + opText[:1] + " " + rhs
		}
	}
	return Output{Converted: name + " := " + rhs + ";"}
}

// convertSelect handles variable-assigning SELECTs, including the
// primary-key lookup idiom. Other SELECTs take the generic path.
func (c *converter) convertSelect(stmt Statement, toks []Token, f, last int, text string) Output {
	pos := significant(toks, f+1)
	topText := ""
	if toks[pos].Is("TOP") {
		n := significant(toks, pos+1)
		end := n + 1
		if toks[n].IsPunct("(") {
			close, ok := matchParenToken(toks, n)
			if !ok {
				return c.needs(stmt, "malformed TOP")
			}
			end = close + 1
		}
		topText = Join(toks[pos:end]) + " "
		pos = significant(toks, end)
	}
	if toks[pos].Kind != TokenVariable || !toks[significant(toks, pos+1)].IsPunct("=") {
		return c.generic(stmt, text)
	}

	if m := c.patterns.pkLookup(text); m != "" {
		v := varName(toks[pos].Text)
		return Output{Converted: fmt.Sprintf("SELECT con.conname INTO %s FROM pg_constraint con JOIN pg_class rel ON rel.oid = con.conrelid WHERE rel.relname = %s AND con.contype = 'p';",
			v, quoteString(objectName(m)))}
	}

	from := len(toks) - 1
	depth := 0
	for j := pos; j <= last; j++ {
		t := toks[j]
		if t.IsPunct("(") {
			depth++
		} else if t.IsPunct(")") {
			depth--
		} else if depth == 0 && t.Is("FROM", "WHERE", "ORDER", "GROUP") {
			from = j
			break
		}
	}
	listEnd := from
	if listEnd > last {
		listEnd = last + 1
		if toks[last].IsPunct(";") {
			listEnd = last
		}
	}
	var vars, exprs []string
	for _, item := range splitTopLevel(toks[pos:listEnd]) {
		item = withEOF(item)
		v := significant(item, 0)
		eq := significant(item, v+1)
		if item[v].Kind != TokenVariable || !item[eq].IsPunct("=") {
			return c.needs(stmt, "SELECT mixes assignments and result columns")
		}
		vars = append(vars, varName(item[v].Text))
		exprs = append(exprs, strings.TrimSpace(Join(item[eq+1:len(item)-1])))
	}
	rest := ""
	if from <= last {
		rest = " " + statementBody(toks, from, last)
	}
	query := "SELECT " + topText + strings.Join(exprs, ", ") + rest
	rewritten := strings.TrimSpace(c.rewriteClause(query))
	out := insertInto(rewritten, strings.Join(vars, ", "))
	out = ensureTerminator(out)
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: out}
}

// insertInto places "INTO vars" after the select list of sql.
func insertInto(sql, vars string) string {
	toks := Tokenize(sql)
	depth := 0
	for j, t := range toks {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && (t.Is("FROM", "WHERE", "GROUP", "ORDER", "LIMIT") || t.IsPunct(";")):
			return strings.TrimRight(Join(toks[:j]), " \t\r\n") + " INTO " + vars + " " + Join(toks[j:])
		}
	}
	return strings.TrimRight(sql, " \t\r\n") + " INTO " + vars
}

// pkLookup returns the table of a primary-key name lookup against
// sys.indexes or INFORMATION_SCHEMA.TABLE_CONSTRAINTS, or "".
func (p *patternTable) pkLookup(sql string) string {
	lower := strings.ToLower(sql)
	isIndexes := (strings.Contains(lower, "sys.indexes") || strings.Contains(lower, "sysindexes")) && strings.Contains(lower, "is_primary_key")
	isConstraints := strings.Contains(lower, "table_constraints") && strings.Contains(lower, "primary key")
	if !isIndexes && !isConstraints {
		return ""
	}
	for _, re := range p.pkTable {
		if m := re.FindStringSubmatch(sql); m != nil {
			return m[1]
		}
	}
	return ""
}

func (c *converter) convertExec(stmt Statement, toks []Token, f, last int, text string) Output {
	if inner, ok := unwrapExec(text); ok {
		sub := c.convertBody(Tokenize(inner))
		if sub.NeedsConversion != "" {
			return Output{NeedsConversion: strings.Trim(stmt.Text(), "\r\n")}
		}
		return sub
	}
	if m := c.patterns.pkDrop.FindStringSubmatch(text); m != nil {
		return Output{Converted: fmt.Sprintf("EXECUTE format('ALTER TABLE %%I DROP CONSTRAINT %%I', %s, %s);",
			quoteString(objectName(m[1])), varName(m[2]))}
	}
	if m := c.patterns.pkAdd.FindStringSubmatch(text); m != nil {
		var cols []string
		for _, col := range strings.Split(m[3], ",") {
			fields := strings.Fields(col)
			if len(fields) == 0 {
				continue
			}
			cols = append(cols, pgIdent(fields[0]))
		}
		return Output{Converted: fmt.Sprintf("EXECUTE format('ALTER TABLE %%I ADD CONSTRAINT %%I PRIMARY KEY (%s)', %s, %s);",
			strings.Join(cols, ", "), quoteString(objectName(m[1])), varName(m[2]))}
	}
	if m := c.patterns.spExec.FindStringSubmatch(text); m != nil {
		v := m[1]
		if v == "" {
			v = m[2]
		}
		return Output{Converted: "EXECUTE " + varName(v) + ";"}
	}

	n := significant(toks, f+1)
	switch {
	case toks[n].Kind == TokenVariable && toks[significant(toks, n+1)].IsPunct("="):
		return c.needs(stmt, "EXEC with return status")
	case toks[n].IsPunct("("), toks[n].Kind == TokenVariable:
		return c.needs(stmt, "dynamic SQL")
	case !toks[n].IsWord() && toks[n].Kind != TokenQuotedIdentifier:
		return c.needs(stmt, "unsupported EXEC")
	}
	end := n
	for toks[end+1].IsPunct(".") {
		end += 2
	}
	proc := objectName(Join(toks[n : end+1]))
	args := statementBody(toks, end+1, last)
	switch {
	case proc == "sp_rename":
		return c.convertRename(stmt, args)
	case strings.HasPrefix(proc, "sp_"), strings.HasPrefix(proc, "xp_"):
		return c.needs(stmt, "system procedure "+proc)
	}

	var rendered []string
	for _, arg := range splitTopLevelText(args) {
		at := significantTokens(Tokenize(arg))
		if len(at) > 2 && at[len(at)-2].Is("OUTPUT", "OUT") {
			at = append(at[:len(at)-2:len(at)-2], at[len(at)-1])
		}
		named := ""
		if len(at) > 2 && at[0].Kind == TokenVariable && at[1].IsPunct("=") {
			named = varName(at[0].Text) + " => "
			at = at[2:]
		}
		value := strings.TrimSpace(c.rewriteClause(joinSpaced(at)))
		if value == "" || strings.EqualFold(value, "DEFAULT") {
			return c.needs(stmt, "EXEC argument")
		}
		rendered = append(rendered, named+value)
	}
	out := fmt.Sprintf("CALL %s(%s);", pgIdent(proc), strings.Join(rendered, ", "))
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: out}
}

// convertRename turns sp_rename into ALTER ... RENAME.
func (c *converter) convertRename(stmt Statement, args string) Output {
	var lits []string
	for _, a := range splitTopLevelText(args) {
		at := significantTokens(Tokenize(a))
		if len(at) != 2 || at[0].Kind != TokenString {
			return c.needs(stmt, "sp_rename with computed arguments")
		}
		lits = append(lits, unquoteString(at[0].Text))
	}
	if len(lits) < 2 {
		return c.needs(stmt, "sp_rename arguments")
	}
	kind := "OBJECT"
	if len(lits) > 2 {
		kind = strings.ToUpper(strings.TrimSpace(lits[2]))
	}
	oldParts := strings.Split(lits[0], ".")
	newName := pgIdent(objectName(lits[1]))
	switch kind {
	case "COLUMN":
		if len(oldParts) < 2 {
			return c.needs(stmt, "sp_rename column without table")
		}
		table := pgIdent(objectName(oldParts[len(oldParts)-2]))
		col := pgIdent(objectName(oldParts[len(oldParts)-1]))
		return Output{Converted: fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", table, col, newName)}
	case "INDEX":
		return Output{Converted: fmt.Sprintf("ALTER INDEX %s RENAME TO %s;", pgIdent(objectName(lits[0])), newName)}
	case "OBJECT":
		return Output{Converted: fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", pgIdent(objectName(lits[0])), newName)}
	}
	return c.needs(stmt, "sp_rename "+kind)
}

// convertDelete canonicalizes DELETE [FROM] t [WHERE ...] into
// DELETE FROM t WHERE ... with date offsets against today folded into
// current_date arithmetic.
func (c *converter) convertDelete(stmt Statement, toks []Token, f, last int) Output {
	j := significant(toks, f+1)
	if toks[j].Is("TOP") {
		return c.needs(stmt, "DELETE TOP")
	}
	if toks[j].Is("FROM") {
		j = significant(toks, j+1)
	}
	if !toks[j].IsWord() && toks[j].Kind != TokenQuotedIdentifier {
		return c.needs(stmt, "unsupported DELETE")
	}
	end := j
	for toks[end+1].IsPunct(".") {
		end += 2
	}
	table := Join(toks[j : end+1])
	k := significant(toks, end+1)
	alias := ""
	if toks[k].IsWord() && !toks[k].Is("WHERE", "FROM", "OUTPUT", "OPTION") {
		alias = " " + toks[k].Text
		k = significant(toks, k+1)
	}
	if toks[k].Is("FROM") || toks[k].IsPunct(",") {
		return c.needs(stmt, "DELETE with join")
	}
	where := ""
	if toks[k].Is("WHERE") {
		where = " WHERE " + tidyOperators(currentDateOffsets(statementBody(toks, k+1, last)))
	} else if k <= last && !toks[k].IsPunct(";") {
		return c.needs(stmt, "unsupported DELETE clause")
	}
	out := c.rewriteStatement("DELETE FROM " + table + alias + where)
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: strings.TrimSpace(out)}
}

// todayCalls are the T-SQL spellings of "now" accepted by currentDateOffsets.
var todayCalls = map[string]bool{
	"GETDATE()": true, "SYSDATETIME()": true, "CURRENT_TIMESTAMP": true,
}

// currentDateOffsets rewrites DATEADD(DAY, n, GETDATE()) with a numeric n
// into current_date ± n.
func currentDateOffsets(sql string) string {
	return rewriteCalls(sql, map[string]callRewrite{
		"DATEADD": func(args []string) (string, bool) {
			if len(args) != 3 {
				return "", false
			}
			unit, mult, ok := datePart(args[0])
			if !ok || unit != "day" || mult != 1 {
				return "", false
			}
			if !todayCalls[strings.ToUpper(strings.Join(strings.Fields(args[2]), ""))] {
				return "", false
			}
			n, ok := numericLiteral(args[1])
			if !ok {
				return "", false
			}
			switch n.Cmp(decimal.Zero) {
			case 0:
				return "current_date", true
			case -1:
				return "current_date - " + n.Abs().String(), true
			}
			return "current_date + " + n.String(), true
		},
	})
}

// tidyOperators collapses whitespace runs and puts single spaces around
// comparison operators.
func tidyOperators(sql string) string {
	toks := Tokenize(sql)
	var sb strings.Builder
	pendingSpace := false
	for _, t := range toks {
		switch {
		case t.Kind == TokenEndOfInput:
		case t.Kind == TokenWhitespace || t.Kind == TokenNewline:
			pendingSpace = sb.Len() > 0
		case t.Kind == TokenPunctuation && comparisonOps[t.Text]:
			trimTrailingSpace(&sb)
			sb.WriteString(" " + t.Text)
			pendingSpace = true
		case t.Kind == TokenLineComment:
			if pendingSpace {
				sb.WriteByte(' ')
			}
			sb.WriteString(t.Text + "\n")
			pendingSpace = false
		default:
			if pendingSpace {
				sb.WriteByte(' ')
			}
			sb.WriteString(t.Text)
			pendingSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

// convertUpdate rejects the T-SQL UPDATE ... FROM ... JOIN form, which has
// different semantics in PostgreSQL, and strips table qualifiers from SET
// targets.
func (c *converter) convertUpdate(stmt Statement, toks []Token, f, last int, text string) Output {
	target := significant(toks, f+1)
	if toks[target].Is("TOP") {
		return c.needs(stmt, "UPDATE TOP")
	}
	depth := 0
	set := -1
	for j := target; j <= last; j++ {
		t := toks[j]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth != 0:
		case t.Is("SET") && set < 0:
			set = j
		case t.Is("FROM") && set >= 0:
			return c.needs(stmt, "UPDATE with FROM clause")
		}
	}
	if set < 0 {
		return c.needs(stmt, "UPDATE without SET")
	}
	return c.generic(stmt, stripSetQualifiers(text))
}

// stripSetQualifiers turns "SET t.col = ..." into "SET col = ...".
func stripSetQualifiers(sql string) string {
	toks := Tokenize(sql)
	var sb strings.Builder
	depth := 0
	inSet := false
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("SET"):
			inSet = true
		case depth == 0 && t.Is("WHERE", "OUTPUT", "OPTION"):
			inSet = false
		}
		if inSet && depth == 0 && (t.IsWord() || t.Kind == TokenQuotedIdentifier) && toks[i+1].IsPunct(".") {
			if p := prevSignificant(toks, i); p >= 0 && (toks[p].Is("SET") || toks[p].IsPunct(",")) {
				eq := significant(toks, i+2)
				if toks[significant(toks, eq+1)].IsPunct("=") {
					i++
					continue
				}
			}
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func (c *converter) convertInsert(stmt Statement, toks []Token, f int, text string) Output {
	depth := 0
	for j := f; toks[j].Kind != TokenEndOfInput; j++ {
		t := toks[j]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("EXEC", "EXECUTE"):
			return c.needs(stmt, "INSERT ... EXEC")
		}
	}
	if n := significant(toks, f+1); !toks[n].Is("INTO") {
		text = Join(toks[f:n]) + "INTO " + strings.TrimSpace(Join(toks[n:]))
		text = strings.TrimSpace(text)
	}
	return c.generic(stmt, text)
}

func (c *converter) convertPrint(stmt Statement, toks []Token, f, last int) Output {
	expr := statementBody(toks, f+1, last)
	if expr == "" {
		return c.needs(stmt, "PRINT without value")
	}
	rhs := strings.TrimSpace(c.rewriteClause(expr))
	if r := residue(rhs); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: "RAISE NOTICE '%', " + rhs + ";"}
}

var rePrintfSpec = regexp.MustCompile(`%[-+ 0#]*(?:\d+|\*)?(?:\.(?:\d+|\*))?(?:l|h|I64)?[sdiuoxX]`)

// convertRaiserror maps RAISERROR(msg, severity, state, args...) to RAISE.
// Severities below 11 are informational and become notices.
func (c *converter) convertRaiserror(stmt Statement, toks []Token, f, last int) Output {
	open := significant(toks, f+1)
	if !toks[open].IsPunct("(") {
		return c.needs(stmt, "RAISERROR without parentheses")
	}
	close, ok := matchParenToken(toks, open)
	if !ok {
		return c.needs(stmt, "malformed RAISERROR")
	}
	args := splitTopLevelText(Join(toks[open+1 : close]))
	if len(args) < 3 {
		return c.needs(stmt, "RAISERROR arguments")
	}
	level := "EXCEPTION"
	if sev, ok := numericLiteral(args[1]); ok && sev.LessThan(decimal.NewFromInt(11)) {
		level = "NOTICE"
	}
	var params []string
	for _, a := range args[3:] {
		params = append(params, strings.TrimSpace(c.rewriteClause(a)))
	}
	msgToks := significantTokens(Tokenize(args[0]))
	var format string
	switch {
	case len(msgToks) == 2 && msgToks[0].Kind == TokenString:
		msg := rePrintfSpec.ReplaceAllString(unquoteString(msgToks[0].Text), "%")
		if strings.Count(strings.ReplaceAll(msg, "%%", ""), "%") != len(params) {
			return c.needs(stmt, "RAISERROR format arguments")
		}
		format = quoteString(msg)
	case len(msgToks) == 2 && msgToks[0].Kind == TokenVariable && len(params) == 0:
		format = "'%'"
		params = []string{varName(msgToks[0].Text)}
	default:
		return c.needs(stmt, "RAISERROR message")
	}
	out := "RAISE " + level + " " + format
	for _, p := range params {
		out += ", " + p
	}
	out += ";"
	if r := residue(out); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: out}
}

func (c *converter) convertThrow(stmt Statement, toks []Token, f, last int) Output {
	body := statementBody(toks, f+1, last)
	if body == "" {
		return Output{Converted: "RAISE;"}
	}
	args := splitTopLevelText(body)
	if len(args) != 3 {
		return c.needs(stmt, "THROW arguments")
	}
	msg := strings.TrimSpace(c.rewriteClause(args[1]))
	if r := residue(msg); r != "" {
		return c.needs(stmt, r)
	}
	return Output{Converted: "RAISE EXCEPTION '%', " + msg + ";"}
}

func (c *converter) convertWaitFor(stmt Statement, text string) Output {
	m := c.patterns.waitFor.FindStringSubmatch(text)
	if m == nil {
		return c.needs(stmt, "WAITFOR")
	}
	secs := decimal.RequireFromString(m[1]).Mul(decimal.NewFromInt(3600)).
		Add(decimal.RequireFromString(m[2]).Mul(decimal.NewFromInt(60))).
		Add(decimal.RequireFromString(m[3]))
	if m[4] != "" {
		secs = secs.Add(decimal.RequireFromString("0." + m[4]))
	}
	return Output{Converted: "PERFORM pg_sleep(" + secs.String() + ");"}
}
