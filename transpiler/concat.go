package transpiler

import (
	"strings"
)

// concatUnit is one operand-sized piece of an expression at a single paren
// level: a token, a dotted name, a function call or a parenthesized group.
type concatUnit struct {
	lead string // trivia before the unit
	text string // rewritten text of the unit
	tok  Token  // first token
	kind concatKind
	call string // upper-case function name for call units
}

type concatKind int

const (
	unitOther concatKind = iota
	unitOperand
	unitPlus
)

// structuralWords never act as concatenation operands.
var structuralWords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "AS": true, "ON": true, "SET": true, "THEN": true,
	"ELSE": true, "WHEN": true, "CASE": true, "END": true, "IN": true,
	"IS": true, "LIKE": true, "BETWEEN": true, "VALUES": true, "INTO": true,
	"RETURN": true, "PRINT": true, "BY": true, "JOIN": true, "UNION": true,
	"EXISTS": true, "ORDER": true, "GROUP": true, "HAVING": true, "TOP": true,
	"DISTINCT": true, "WITH": true, "IF": true, "KEY": true, "UNIQUE": true,
	"CHECK": true, "INCLUDE": true,
}

// stringFunctions return character data, so a '+' next to them is
// concatenation.
var stringFunctions = map[string]bool{
	"LEFT": true, "RIGHT": true, "SUBSTRING": true, "LTRIM": true,
	"RTRIM": true, "TRIM": true, "UPPER": true, "LOWER": true,
	"REPLACE": true, "CONCAT": true, "REPLICATE": true, "SPACE": true,
	"STR": true, "QUOTENAME": true, "CHAR": true, "NCHAR": true,
	"REVERSE": true, "FORMAT": true, "TIMEZONE": true,
}

// rewriteConcat turns '+' chains that build strings into CONCAT(...) calls.
// A chain is converted when one of its operands is a string literal, a
// variable declared with a character type, a string function, a cast to a
// character type, or a group that itself became CONCAT.
func (c *converter) rewriteConcat(sql string) string {
	toks := Tokenize(sql)
	return c.concatLevel(toks[:len(toks)-1])
}

func (c *converter) concatLevel(toks []Token) string {
	units, tail := c.concatUnits(toks)
	var sb strings.Builder
	for k := 0; k < len(units); {
		end := chainEnd(units, k)
		if end > k && c.chainConverts(units, k, end) {
			sb.WriteString(units[k].lead)
			sb.WriteString("CONCAT(")
			for j := k; j <= end; j += 2 {
				if j > k {
					sb.WriteString(", ")
				}
				sb.WriteString(strings.TrimSpace(units[j].text))
			}
			sb.WriteString(")")
			k = end + 1
			continue
		}
		sb.WriteString(units[k].lead)
		sb.WriteString(units[k].text)
		k++
	}
	sb.WriteString(tail)
	return sb.String()
}

// concatUnits groups toks into units, rewriting the inside of calls and
// groups recursively. Trivia after the last unit is returned as tail.
func (c *converter) concatUnits(toks []Token) ([]concatUnit, string) {
	toks = withEOF(toks)
	var units []concatUnit
	var lead strings.Builder
	for i := 0; toks[i].Kind != TokenEndOfInput; i++ {
		t := toks[i]
		if t.IsTrivia() {
			lead.WriteString(t.Text)
			continue
		}
		u := concatUnit{lead: lead.String(), tok: t, text: t.Text}
		lead.Reset()
		switch {
		case t.IsPunct("+"):
			u.kind = unitPlus
		case t.IsPunct("("):
			close, ok := matchParenToken(toks, i)
			if !ok {
				u.text = Join(toks[i : len(toks)-1])
				units = append(units, u)
				return units, ""
			}
			u.text = "(" + c.concatLevel(toks[i+1:close]) + ")"
			u.kind = unitOperand
			i = close
		case t.IsWord() && !structuralWords[t.Upper()] && toks[i+1].IsPunct("("):
			close, ok := matchParenToken(toks, i+1)
			if !ok {
				break
			}
			u.text = t.Text + "(" + c.concatLevel(toks[i+2:close]) + ")"
			u.kind = unitOperand
			u.call = t.Upper()
			i = close
		case t.Kind == TokenString, t.Kind == TokenNumber, t.Kind == TokenVariable, t.Kind == TokenQuotedIdentifier:
			u.kind = unitOperand
			i = dottedTail(toks, i, &u)
		case t.IsWord() && !structuralWords[t.Upper()]:
			u.kind = unitOperand
			i = dottedTail(toks, i, &u)
		}
		units = append(units, u)
	}
	return units, lead.String()
}

// dottedTail extends a name unit over ".part" suffixes and returns the index
// of its last token.
func dottedTail(toks []Token, i int, u *concatUnit) int {
	for toks[i+1].IsPunct(".") && (toks[i+2].IsWord() || toks[i+2].Kind == TokenQuotedIdentifier || toks[i+2].IsPunct("*")) {
		u.text += "." + toks[i+2].Text
		i += 2
	}
	return i
}

// chainEnd returns the index of the last operand of the operand '+'
// operand ... chain starting at k, or k when there is no chain.
func chainEnd(units []concatUnit, k int) int {
	if units[k].kind != unitOperand {
		return k
	}
	end := k
	for end+2 < len(units) && units[end+1].kind == unitPlus && units[end+2].kind == unitOperand {
		end += 2
	}
	return end
}

func (c *converter) chainConverts(units []concatUnit, k, end int) bool {
	// Neighbouring arithmetic binds tighter than '+'; such chains are left alone.
	if k > 0 && units[k-1].tok.Kind == TokenPunctuation && strings.ContainsAny(units[k-1].tok.Text, "*/%-") {
		return false
	}
	if end+1 < len(units) && units[end+1].tok.Kind == TokenPunctuation && strings.ContainsAny(units[end+1].tok.Text, "*/%") {
		return false
	}
	for j := k + 1; j <= end; j++ {
		if strings.Contains(units[j].lead, "--") || strings.Contains(units[j].lead, "/*") {
			return false
		}
	}
	for j := k; j <= end; j += 2 {
		if c.stringOperand(units[j]) {
			return true
		}
	}
	return false
}

func (c *converter) stringOperand(u concatUnit) bool {
	switch {
	case u.tok.Kind == TokenString:
		return true
	case u.tok.Kind == TokenVariable:
		return c.stringVars[strings.ToLower(strings.TrimPrefix(u.tok.Text, "@"))]
	case u.call == "CAST":
		return castsToString(u.text)
	case u.call == "COALESCE" || u.call == "NULLIF" || u.call == "ISNULL":
		return strings.Contains(u.text, "'")
	case u.call != "":
		return stringFunctions[u.call]
	case u.tok.IsPunct("("):
		return strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(u.text, "(")), "CONCAT(")
	}
	return false
}

// castsToString reports whether a CAST(expr AS type) call targets a
// character type.
func castsToString(call string) bool {
	toks := Tokenize(call)
	for i := len(toks) - 1; i >= 0; i-- {
		if toks[i].Is("AS") {
			typ := strings.TrimSuffix(strings.TrimSpace(Join(toks[i+1:])), ")")
			return isStringType(typ)
		}
	}
	return false
}
