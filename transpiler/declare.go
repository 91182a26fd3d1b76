package transpiler

import (
	"strings"
)

// DeclareItem is one hoisted variable declaration.
type DeclareItem struct {
	Name     string // PL/pgSQL name, no sigil
	TypeText string // PostgreSQL type
}

// declareSet collects declarations in source order. A name declared twice
// keeps its first type.
type declareSet struct {
	items []DeclareItem
	seen  map[string]bool
}

func newDeclareSet() *declareSet {
	return &declareSet{seen: make(map[string]bool)}
}

func (d *declareSet) add(name, typ string) {
	if d.seen[name] {
		return
	}
	d.seen[name] = true
	d.items = append(d.items, DeclareItem{Name: name, TypeText: typ})
}

// Items returns the collected declarations.
func (d *declareSet) Items() []DeclareItem {
	return d.items
}

// render returns the DECLARE section, or "" when nothing was declared.
func (d *declareSet) render() string {
	if len(d.items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("DECLARE")
	for _, it := range d.items {
		sb.WriteString("\n    " + it.Name + " " + it.TypeText + ";")
	}
	return sb.String()
}

// convertDeclare hoists every variable of a DECLARE statement and returns
// the assignments for any initializers. Table variables and cursors cannot
// be hoisted and send the statement to needs-conversion.
func (c *converter) convertDeclare(stmt Statement) Output {
	toks := withEOF(stmt.Tokens)
	f := significant(toks, 0)
	last := prevSignificant(toks, len(toks)-1)
	end := last + 1
	if toks[last].IsPunct(";") {
		end = last
	}
	type decl struct{ key, name, typ, init string }
	var decls []decl
	for _, part := range splitTopLevel(toks[f+1 : end]) {
		part = withEOF(part)
		v := significant(part, 0)
		if part[v].Kind != TokenVariable {
			return c.needs(stmt, "unsupported DECLARE")
		}
		t := significant(part, v+1)
		if part[t].Is("AS") {
			t = significant(part, t+1)
		}
		if part[t].Is("TABLE", "CURSOR") {
			return c.needs(stmt, "DECLARE "+part[t].Upper())
		}
		eq := -1
		depth := 0
		for j := t; part[j].Kind != TokenEndOfInput; j++ {
			switch {
			case part[j].IsPunct("("):
				depth++
			case part[j].IsPunct(")"):
				depth--
			case depth == 0 && part[j].IsPunct("="):
				eq = j
			}
			if eq >= 0 {
				break
			}
		}
		typeEnd := len(part) - 1
		var init string
		if eq >= 0 {
			typeEnd = eq
			init = strings.TrimSpace(Join(part[eq+1 : len(part)-1]))
		}
		d := decl{
			key:  strings.ToLower(strings.TrimPrefix(part[v].Text, "@")),
			name: varName(part[v].Text),
			typ:  joinSpaced(significantTokens(part[t:typeEnd])),
			init: init,
		}
		if d.typ == "" {
			return c.needs(stmt, "DECLARE without type")
		}
		decls = append(decls, d)
	}
	if len(decls) == 0 {
		return c.needs(stmt, "empty DECLARE")
	}

	var out []string
	for _, d := range decls {
		pgType := MapTypeText(d.typ)
		if isStringType(pgType) {
			c.stringVars[d.key] = true
		}
		c.declares.add(d.name, pgType)
		if d.init != "" {
			expr := strings.TrimSpace(c.rewriteClause(d.init))
			if r := residue(expr); r != "" {
				return c.needs(stmt, r)
			}
			out = append(out, d.name+" := "+expr+";")
		}
	}
	return Output{Converted: strings.Join(out, "\n")}
}
