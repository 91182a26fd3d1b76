package transpiler

import (
	"strings"
)

// topToLimit rewrites SELECT [DISTINCT] TOP n ... into SELECT ... LIMIT n,
// in the outer query and in parenthesized subqueries. TOP ... PERCENT,
// TOP ... WITH TIES and a TOP that heads a UNION branch are left in place
// for the residue check.
func topToLimit(sql string) string {
	skip := 0
	for {
		toks := Tokenize(sql)
		out, ok := rewriteOneTop(toks, skip)
		if !ok {
			return sql
		}
		if out == "" {
			skip++
			continue
		}
		sql = out
	}
}

// rewriteOneTop rewrites the first TOP clause after skipping skip
// unconvertible ones. It returns ok=false when no TOP clause is left and an
// empty string when the clause it found cannot be converted.
func rewriteOneTop(toks []Token, skip int) (string, bool) {
	seen := 0
	for i, t := range toks {
		if !t.Is("SELECT") {
			continue
		}
		top := significant(toks, i+1)
		if toks[top].Is("DISTINCT", "ALL") {
			top = significant(toks, top+1)
		}
		if !toks[top].Is("TOP") {
			continue
		}
		if seen < skip {
			seen++
			continue
		}
		limit, after, ok := topCount(toks, top)
		if !ok {
			return "", true
		}
		end, ok := selectScopeEnd(toks, after)
		if !ok {
			return "", true
		}
		// Drop "TOP n" together with the whitespace after it.
		cut := after
		for toks[cut].Kind == TokenWhitespace {
			cut++
		}
		ins := prevSignificant(toks, end) + 1
		var sb strings.Builder
		sb.WriteString(Join(toks[:top]))
		sb.WriteString(Join(toks[cut:ins]))
		sb.WriteString(" LIMIT " + limit)
		sb.WriteString(Join(toks[ins:]))
		return sb.String(), true
	}
	return "", false
}

// topCount parses the count after TOP at top. It returns the LIMIT text and
// the index just past the count.
func topCount(toks []Token, top int) (string, int, bool) {
	n := significant(toks, top+1)
	var limit string
	var after int
	switch {
	case toks[n].Kind == TokenNumber || toks[n].Kind == TokenVariable:
		limit, after = toks[n].Text, n+1
	case toks[n].IsPunct("("):
		close, ok := matchParenToken(toks, n)
		if !ok {
			return "", 0, false
		}
		inner := strings.TrimSpace(Join(toks[n+1 : close]))
		if _, isNum := numericLiteral(inner); isNum || strings.HasPrefix(inner, "@") && !strings.ContainsAny(inner, " +-*/") {
			limit = inner
		} else {
			limit = "(" + inner + ")"
		}
		after = close + 1
	default:
		return "", 0, false
	}
	next := significant(toks, after)
	if toks[next].Is("PERCENT") {
		return "", 0, false
	}
	if toks[next].Is("WITH") && toks[significant(toks, next+1)].Is("TIES") {
		return "", 0, false
	}
	return limit, after, true
}

// selectScopeEnd returns the index of the token that closes the SELECT
// whose TOP clause ends at from: the closing parenthesis of the enclosing
// group, a top-level ';', or end of input. A set operator at the same level
// makes the scope ambiguous.
func selectScopeEnd(toks []Token, from int) (int, bool) {
	depth := 0
	for j := from; ; j++ {
		t := toks[j]
		switch {
		case t.Kind == TokenEndOfInput:
			return j, true
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			if depth == 0 {
				return j, true
			}
			depth--
		case depth == 0 && t.IsPunct(";"):
			return j, true
		case depth == 0 && t.Is("UNION", "EXCEPT", "INTERSECT"):
			return 0, false
		}
	}
}
