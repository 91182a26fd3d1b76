package transpiler

import (
	"fmt"
	"regexp"
	"strings"
)

// rewriteClause applies the generic clause rewrites, in order, to a piece
// of T-SQL. Every pass works on tokens, so string literals and comments are
// never rewritten by accident.
func (c *converter) rewriteClause(sql string) string {
	s := stripHints(sql)
	s = c.normalizeIdentifiers(s)
	s = rewriteFunctions(s)
	s = topToLimit(s)
	s = selectInto(s)
	s = stripTempPrefix(s)
	s = c.rewriteConcat(s)
	s = stripVariableSigils(s)
	return s
}

// rewriteStatement rewrites one statement and makes sure it is terminated.
func (c *converter) rewriteStatement(sql string) string {
	return ensureTerminator(c.rewriteClause(sql))
}

// tableHints are SQL Server locking hints with no PostgreSQL counterpart.
var tableHints = map[string]bool{
	"NOLOCK": true, "READUNCOMMITTED": true, "UPDLOCK": true, "ROWLOCK": true,
	"HOLDLOCK": true, "READPAST": true, "PAGLOCK": true, "TABLOCK": true,
	"TABLOCKX": true, "XLOCK": true, "NOWAIT": true, "SERIALIZABLE": true,
	"REPEATABLEREAD": true, "READCOMMITTED": true,
}

// stripHints removes WITH (NOLOCK) and (NOLOCK) style table hints together
// with the whitespace in front of them.
func stripHints(sql string) string {
	toks := Tokenize(sql)
	var sb strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		open := -1
		switch {
		case t.Is("WITH"):
			if n := significant(toks, i+1); toks[n].IsPunct("(") {
				open = n
			}
		case t.IsPunct("("):
			if p := prevSignificant(toks, i); p >= 0 && (toks[p].Kind == TokenIdentifier || toks[p].Kind == TokenQuotedIdentifier) {
				open = i
			}
		}
		if open >= 0 {
			if close, ok := matchParenToken(toks, open); ok && onlyHints(toks[open+1:close]) {
				trimTrailingSpace(&sb)
				i = close
				continue
			}
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func onlyHints(toks []Token) bool {
	seen := false
	for _, t := range toks {
		switch {
		case t.IsTrivia(), t.IsPunct(","):
		case t.IsWord() && tableHints[t.Upper()]:
			seen = true
		default:
			return false
		}
	}
	return seen
}

// trimTrailingSpace drops spaces and tabs at the end of sb.
func trimTrailingSpace(sb *strings.Builder) {
	s := sb.String()
	trimmed := strings.TrimRight(s, " \t")
	if len(trimmed) != len(s) {
		sb.Reset()
		sb.WriteString(trimmed)
	}
}

// normalizeIdentifiers removes [] and "" delimiters and the configured
// schema prefix outside strings and comments.
func (c *converter) normalizeIdentifiers(sql string) string {
	toks := Tokenize(sql)
	var sb strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if (t.IsWord() || t.Kind == TokenQuotedIdentifier) &&
			strings.EqualFold(unquoteIdent(t.Text), c.opts.Schema) &&
			i+2 < len(toks) && toks[i+1].IsPunct(".") &&
			(toks[i+2].IsWord() || toks[i+2].Kind == TokenQuotedIdentifier) {
			if p := i - 1; p >= 0 && toks[p].IsPunct(".") {
				// database.dbo.name loses the database part as well
				trimDatabasePrefix(&sb)
			}
			i++ // skip the dot; the name itself is emitted next round
			continue
		}
		if t.Kind == TokenQuotedIdentifier {
			sb.WriteString(plainIdent(unquoteIdent(t.Text)))
			continue
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// trimDatabasePrefix removes a trailing "database." from sb.
func trimDatabasePrefix(sb *strings.Builder) {
	s := strings.TrimSuffix(sb.String(), ".")
	toks := Tokenize(s)
	last := prevSignificant(toks, len(toks)-1)
	if last >= 0 && (toks[last].IsWord() || toks[last].Kind == TokenQuotedIdentifier) {
		s = Join(toks[:last])
	}
	sb.Reset()
	sb.WriteString(s)
}

// stripTempPrefix removes the # marker from temp-table names. Names found
// as identifiers are also renamed inside string literals so dynamic SQL
// stays consistent with the rest of the body.
func stripTempPrefix(sql string) string {
	toks := Tokenize(sql)
	temps := map[string]bool{}
	for _, t := range toks {
		if t.IsWord() && strings.HasPrefix(t.Text, "#") {
			temps[strings.ToLower(strings.TrimLeft(t.Text, "#"))] = true
		}
	}
	if len(temps) == 0 {
		return sql
	}
	var sb strings.Builder
	for _, t := range toks {
		switch {
		case t.IsWord() && strings.HasPrefix(t.Text, "#"):
			sb.WriteString(strings.TrimLeft(t.Text, "#"))
		case t.Kind == TokenString && strings.Contains(t.Text, "#"):
			sb.WriteString(reTempInString.ReplaceAllStringFunc(t.Text, func(m string) string {
				name := strings.TrimLeft(m, "#")
				if temps[strings.ToLower(name)] {
					return name
				}
				return m
			}))
		default:
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

var reTempInString = regexp.MustCompile(`##?[A-Za-z_][A-Za-z0-9_]*`)

// stripVariableSigils turns @Name into name. System variables (@@...) are
// left for the residue check.
func stripVariableSigils(sql string) string {
	toks := Tokenize(sql)
	var sb strings.Builder
	for _, t := range toks {
		if t.Kind == TokenVariable && !strings.HasPrefix(t.Text, "@@") {
			sb.WriteString(varName(t.Text))
			continue
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// varName converts a T-SQL variable to its PL/pgSQL name.
func varName(v string) string {
	return pgIdent(strings.TrimPrefix(v, "@"))
}

// ensureTerminator appends ';' after the last significant token unless one
// is already there. Trailing comments and whitespace are kept after it.
func ensureTerminator(sql string) string {
	toks := Tokenize(sql)
	last := prevSignificant(toks, len(toks)-1)
	if last < 0 {
		return sql
	}
	if toks[last].IsPunct(";") {
		return sql
	}
	return Join(toks[:last+1]) + ";" + Join(toks[last+1:])
}

// unwrapExec returns the inner SQL of EXEC('...') / EXECUTE (N'...') with
// doubled quotes collapsed. ok is false for any other shape, including
// concatenated arguments.
func unwrapExec(sql string) (string, bool) {
	toks := Tokenize(sql)
	f := significant(toks, 0)
	if !toks[f].Is("EXEC", "EXECUTE") {
		return "", false
	}
	open := significant(toks, f+1)
	if !toks[open].IsPunct("(") {
		return "", false
	}
	close, ok := matchParenToken(toks, open)
	if !ok {
		return "", false
	}
	lit := significant(toks, open+1)
	if toks[lit].Kind != TokenString || significant(toks, lit+1) != close {
		return "", false
	}
	rest := significant(toks, close+1)
	if toks[rest].IsPunct(";") {
		rest = significant(toks, rest+1)
	}
	if toks[rest].Kind != TokenEndOfInput {
		return "", false
	}
	return unquoteString(toks[lit].Text), true
}

// selectInto rewrites SELECT ... INTO target FROM ... into
// CREATE [TEMP] TABLE target AS SELECT ... FROM .... Temp targets are
// dropped first so the statement can run more than once per session.
func selectInto(sql string) string {
	toks := Tokenize(sql)
	f := significant(toks, 0)
	if !toks[f].Is("SELECT", "WITH") {
		return sql
	}
	depth := 0
	sel := -1
	for j := f; toks[j].Kind != TokenEndOfInput; j++ {
		t := toks[j]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth != 0:
		case t.Is("SELECT"):
			sel = j
		case t.Is("FROM", "UNION", "WHERE") || t.IsPunct(";"):
			if t.Is("FROM") {
				sel = -1
			}
		case t.Is("INTO") && sel >= 0:
			return buildSelectInto(toks, f, j)
		}
		if t.IsPunct(";") && depth == 0 {
			break
		}
	}
	return sql
}

func buildSelectInto(toks []Token, f, into int) string {
	n := significant(toks, into+1)
	if toks[n].Kind != TokenIdentifier && toks[n].Kind != TokenKeyword && toks[n].Kind != TokenQuotedIdentifier {
		return Join(toks)
	}
	target := toks[n].Text
	end := n + 1
	for toks[end].IsPunct(".") && end+1 < len(toks) {
		target += "." + toks[end+1].Text
		end += 2
	}
	// INTO target is cut with the whitespace in front of it.
	cut := into
	for cut > 0 && toks[cut-1].Kind == TokenWhitespace {
		cut--
	}
	body := strings.TrimSpace(Join(toks[f:cut]) + Join(toks[end:]))
	body = strings.TrimSuffix(body, ";")
	body = strings.TrimRight(body, " \t\r\n")
	lead := Join(toks[:f])

	name := strings.TrimLeft(target, "#")
	if strings.HasPrefix(target, "#") {
		return fmt.Sprintf("%sDROP TABLE IF EXISTS %s;\nCREATE TEMP TABLE %s AS %s;", lead, name, name, body)
	}
	return fmt.Sprintf("%sCREATE TABLE %s AS %s;", lead, name, body)
}

// residueRules name constructs that survive rewriting but have no direct
// PostgreSQL equivalent.
var residueRules = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)^@@`), "system variable"},
	{regexp.MustCompile(`(?i)^(SCOPE_IDENTITY|IDENT_CURRENT|NEWSEQUENTIALID|ERROR_LINE|ERROR_PROCEDURE|OPENXML|OPENQUERY|OPENROWSET|PIVOT|UNPIVOT|CURSOR)$`), "unsupported construct"},
	{regexp.MustCompile(`(?i)^(CONVERT|DATEADD|DATEDIFF|DATENAME|ISNUMERIC|STUFF|FORMAT)$`), "unconverted function"},
	{regexp.MustCompile(`(?i)^TOP$`), "TOP clause"},
	{regexp.MustCompile(`^#`), "temp table reference"},
}

// residue returns a reason when sql still holds a construct PostgreSQL
// cannot run, or "" when it is clean.
func residue(sql string) string {
	toks := Tokenize(sql)
	for i, t := range toks {
		switch {
		case t.Kind == TokenVariable || t.IsWord():
			for _, r := range residueRules {
				if r.re.MatchString(t.Text) {
					return fmt.Sprintf("%s: %s", r.reason, t.Text)
				}
			}
			if t.Is("OUTPUT") && toks[significant(toks, i+1)].Is("INSERTED", "DELETED") {
				return "OUTPUT clause"
			}
			if t.Is("APPLY") {
				if p := prevSignificant(toks, i); p >= 0 && toks[p].Is("CROSS", "OUTER") {
					return toks[p].Upper() + " APPLY"
				}
			}
			if t.Is("FOR") && toks[significant(toks, i+1)].Is("XML", "JSON") {
				return "FOR " + toks[significant(toks, i+1)].Upper()
			}
		}
	}
	return ""
}
